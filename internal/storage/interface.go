package storage

import "errors"

// ErrNotFound is returned by Retrieve when the document does not exist yet
var ErrNotFound = errors.New("document not found")

// StorageInterface defines the contract for the documents the bot persists:
// the publishing queue and the per-repository progress.
type StorageInterface interface {
	Store(filename string, data []byte) error
	Retrieve(filename string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(filename string) error
}
