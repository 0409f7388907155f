package cache

import (
	"bytes"
	"context"
	"sync"
)

// Blob is the platform persistence capability: a single opaque byte blob.
//
// Get returns nil and no error when nothing has been stored.
type Blob interface {
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// MemoryBlob is an in-process Blob for tests and ephemeral clients.
type MemoryBlob struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBlob returns an empty MemoryBlob.
func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{}
}

func (b *MemoryBlob) Get(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.data), nil
}

func (b *MemoryBlob) Set(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = bytes.Clone(data)
	return nil
}

func (b *MemoryBlob) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}
