package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore keeps artifacts as block blobs in one container
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore connects with a connection string when given, otherwise with
// the account shared key.
func NewAzureStore(connectionString, accountName, accountKey, container string) (*AzureStore, error) {
	var (
		client *azblob.Client
		err    error
	)
	if connectionString != "" {
		client, err = azblob.NewClientFromConnectionString(connectionString, nil)
	} else {
		var credential *azblob.SharedKeyCredential
		credential, err = azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(
			fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
			credential,
			nil,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, opts); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	body := resp.Body
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func (s *AzureStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list failed: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}
