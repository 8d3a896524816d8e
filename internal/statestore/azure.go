package statestore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/logger"
)

// Azure stores state in a blob container and serializes runs with an
// infinite lease on a sibling lock blob. The storage account itself must
// already exist; EnsureBackend only manages the container.
type Azure struct {
	client       *azblob.Client
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewAzure builds a store for the storage account named in the backend
// config, authenticated with a shared key.
func NewAzure(accountName, accountKey string) (*Azure, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, &BackendError{Op: "azure credential", Err: err}
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, &BackendError{Op: "azure client", Err: err}
	}
	return &Azure{
		client:       client,
		pollInterval: 2 * time.Second,
		log:          logger.WithModule("statestore.azure"),
	}, nil
}

func (a *Azure) EnsureBackend(ctx context.Context, b backend.Config) error {
	_, err := a.client.CreateContainer(ctx, b.Container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return &BackendError{Op: "create container", Err: err}
	}
	a.log.WithFields(logrus.Fields{
		"account":   b.StorageAccount,
		"container": b.Container,
	}).Debug("Backend ready")
	return nil
}

func (a *Azure) ReadState(ctx context.Context, b backend.Config) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, b.Container, b.Key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, &BackendError{Op: "read state", Err: err}
	}
	defer resp.Body.Close()

	blobData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Op: "read state body", Err: err}
	}
	return blobData, nil
}

func (a *Azure) WriteState(ctx context.Context, b backend.Config, blobData []byte) error {
	if _, err := a.client.UploadBuffer(ctx, b.Container, b.Key, blobData, nil); err != nil {
		return &BackendError{Op: "write state", Err: err}
	}
	return nil
}

// AcquireLock leases the lock blob next to the state key. A competing
// lease surfaces as LeaseAlreadyPresent and is polled until the wait
// bound.
func (a *Azure) AcquireLock(ctx context.Context, b backend.Config, timeout time.Duration) (*Lease, error) {
	lockBlob := b.Key + ".lock"
	if err := a.ensureLockBlob(ctx, b.Container, lockBlob); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	blobClient := a.client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(lockBlob)
	leaseClient, err := lease.NewBlobClient(blobClient, &lease.BlobClientOptions{LeaseID: &id})
	if err != nil {
		return nil, &BackendError{Op: "lease client", Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		// -1 acquires an infinite lease; it is broken only by release
		_, err := leaseClient.AcquireLease(ctx, -1, nil)
		if err == nil {
			return &Lease{
				ID:         id,
				Key:        b.LockKey(),
				AcquiredAt: time.Now(),
				container:  b.Container,
				blob:       lockBlob,
			}, nil
		}
		if !bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
			return nil, &BackendError{Op: "acquire lock", Err: err}
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		a.log.WithField("lock_key", b.LockKey()).Debug("Lock held by another run, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *Azure) ReleaseLock(ctx context.Context, l *Lease) error {
	blobClient := a.client.ServiceClient().NewContainerClient(l.container).NewBlobClient(l.blob)
	leaseClient, err := lease.NewBlobClient(blobClient, &lease.BlobClientOptions{LeaseID: &l.ID})
	if err != nil {
		return &BackendError{Op: "lease client", Err: err}
	}
	if _, err := leaseClient.ReleaseLease(ctx, nil); err != nil {
		return &BackendError{Op: "release lock", Err: err}
	}
	return nil
}

// ensureLockBlob creates the lock blob when missing without clobbering an
// existing (possibly leased) one.
func (a *Azure) ensureLockBlob(ctx context.Context, container, name string) error {
	noneMatch := azcore.ETagAny
	_, err := a.client.UploadBuffer(ctx, container, name, nil, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &noneMatch},
		},
	})
	if err == nil ||
		bloberror.HasCode(err, bloberror.BlobAlreadyExists) ||
		bloberror.HasCode(err, bloberror.ConditionNotMet) ||
		bloberror.HasCode(err, bloberror.LeaseIDMissing) {
		return nil
	}
	return &BackendError{Op: "create lock blob", Err: err}
}
