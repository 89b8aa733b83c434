// Package state persists the per repository progress of the git monitor.
//
// Everything lives in a single YAML document, one mapping per monitored
// repository keyed by the slug of its remote, e.g.
//
//	https-github-com-xaviarnaus-pyxavi:
//	  last_version: v0.7.2
//
// Every write reads the whole document, changes one key and writes the whole
// document back. There is no locking: only one process may work on a given
// document at a time.
package state

import (
	"errors"
	"fmt"

	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "storage/git_monitor.yaml"

type document map[string]map[string]string

// Store is a namespaced key/value store backed by one storage document
type Store struct {
	storage  storage.StorageInterface
	filename string
}

// New creates a Store writing to filename in the given storage
func New(st storage.StorageInterface, filename string) *Store {
	if filename == "" {
		filename = DefaultFile
	}
	return &Store{storage: st, filename: filename}
}

// Namespace turns a remote identifier into the stable key the progress of a
// repository is nested under.
func Namespace(remoteID string) string {
	return slug.Make(remoteID)
}

// Get returns the value stored under namespace.key, or "" when unset
func (s *Store) Get(namespace, key string) (string, error) {
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	return doc[namespace][key], nil
}

// Set stores value under namespace.key and writes the document back
func (s *Store) Set(namespace, key, value string) error {
	doc, err := s.load()
	if err != nil {
		return err
	}

	if doc[namespace] == nil {
		doc[namespace] = make(map[string]string)
	}
	doc[namespace][key] = value

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.storage.Store(s.filename, data); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	logrus.Debugf("Stored %s.%s = %s", namespace, key, value)
	return nil
}

func (s *Store) load() (document, error) {
	data, err := s.storage.Retrieve(s.filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return make(document), nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	doc := make(document)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", s.filename, err)
	}
	return doc, nil
}
