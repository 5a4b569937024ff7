package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a mock implementation of BlobStore for testing.
type MockBlobStore struct {
	mock.Mock
}

var _ BlobStore = (*MockBlobStore)(nil)

// GetObject is the mock implementation of the GetObject method.
func (m *MockBlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1) //nolint:wrapcheck
}

// PutObject is the mock implementation of the PutObject method. The reader is
// drained so expectations can match on the written bytes.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, payload)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
