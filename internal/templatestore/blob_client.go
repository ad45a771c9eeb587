package templatestore

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobClient adapts the real Azure SDK client to the BlobClient
// interface this package depends on.
type AzureBlobClient struct {
	svc *azblob.Client
}

// NewAzureBlobClient builds a client from a storage account connection
// string, with a bounded retry policy so a flaky blob endpoint doesn't
// stall template resolution indefinitely.
func NewAzureBlobClient(connectionString string) (*AzureBlobClient, error) {
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				RetryDelay:    200 * time.Millisecond,
				MaxRetryDelay: 5 * time.Second,
			},
		},
	}
	svc, err := azblob.NewClientFromConnectionString(connectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("templatestore: blob client: %w", err)
	}
	return &AzureBlobClient{svc: svc}, nil
}

// DownloadBuffer downloads a blob fully into buf, returning the number of
// bytes written.
func (c *AzureBlobClient) DownloadBuffer(ctx context.Context, containerName, blobName string, buf []byte, o *azblob.DownloadBufferOptions) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("templatestore: blob client not configured")
	}
	n, err := c.svc.DownloadBuffer(ctx, containerName, blobName, buf, o)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetProperties reports whether a blob exists.
func (c *AzureBlobClient) GetProperties(ctx context.Context, containerName, blobName string) (bool, error) {
	client := c.svc.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
	_, err := client.GetProperties(ctx, nil)
	if err != nil {
		return false, nil
	}
	return true, nil
}
