package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

const (
	defaultAzureContainer = "janitor"
	azureRequestTimeout   = 30 * time.Second
)

// AzureStorage keeps the queue and progress documents as blobs, for
// deployments where the bot runs without a persistent disk. Documents live
// under an optional prefix so several bots can share a container.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

var _ StorageInterface = (*AzureStorage)(nil)

// NewAzureStorage authenticates with the default Azure credential chain and
// makes sure the container exists
func NewAzureStorage(account, container, prefix string) (*AzureStorage, error) {
	if account == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if container == "" {
		container = defaultAzureContainer
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", account), credential, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	s := &AzureStorage{
		client:    client,
		container: container,
		prefix:    blobPrefix(prefix),
	}

	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()
	if err := s.createContainer(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AzureStorage) createContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	switch {
	case err == nil:
		logrus.Infof("Created container %s", s.container)
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
	default:
		return fmt.Errorf("creating container %s: %w", s.container, err)
	}
	return nil
}

// blobPrefix normalizes a prefix to a slash separated path without leading
// or trailing slashes, "" meaning the container root
func blobPrefix(prefix string) string {
	return strings.Trim(path.Clean("/"+prefix), "/")
}

func (s *AzureStorage) blobName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Store uploads the whole document, replacing the previous blob
func (s *AzureStorage) Store(filename string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	if _, err := s.client.UploadBuffer(ctx, s.container, s.blobName(filename), data, nil); err != nil {
		return fmt.Errorf("uploading %s: %w", filename, err)
	}

	logrus.Debugf("Stored %s in container %s", filename, s.container)
	return nil
}

// Retrieve downloads a document, returning ErrNotFound if the blob is missing
func (s *AzureStorage) Retrieve(filename string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(filename), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
		}
		return nil, fmt.Errorf("downloading %s: %w", filename, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return data, nil
}

// List returns the names of the documents starting with prefix, relative to
// the storage prefix
func (s *AzureStorage) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	full := s.blobName(prefix)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &full})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if s.prefix != "" {
				name = strings.TrimPrefix(name, s.prefix+"/")
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *AzureStorage) Delete(filename string) error {
	ctx, cancel := context.WithTimeout(context.Background(), azureRequestTimeout)
	defer cancel()

	_, err := s.client.DeleteBlob(ctx, s.container, s.blobName(filename), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("deleting %s: %w", filename, err)
	}
	return nil
}
