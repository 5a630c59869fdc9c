// Package scratch allocates the writable blobs that back stream payloads.
// Blobs stay valid until the owning document is closed; closing the space
// closes every blob it handed out.
package scratch

import (
	"errors"
	"sync"
)

// Blob is one writable payload buffer.
type Blob interface {
	Write(p []byte) (int, error)
	Bytes() []byte
	Len() int64
	Close() error
}

// Space hands out blobs and owns their lifetime.
type Space interface {
	NewBlob() Blob
	Close() error
}

// InMemory returns a Space backed by process memory.
func InMemory() Space { return &memSpace{} }

type memSpace struct {
	mu     sync.Mutex
	blobs  []*memBlob
	closed bool
}

func (s *memSpace) NewBlob() Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &memBlob{}
	s.blobs = append(s.blobs, b)
	return b
}

func (s *memSpace) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, b := range s.blobs {
		b.Close()
	}
	s.blobs = nil
	return nil
}

type memBlob struct {
	data   []byte
	closed bool
}

var errClosed = errors.New("scratch: blob closed")

func (b *memBlob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, errClosed
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *memBlob) Bytes() []byte {
	if b.closed {
		return nil
	}
	return b.data
}

func (b *memBlob) Len() int64 { return int64(len(b.data)) }

func (b *memBlob) Close() error {
	b.closed = true
	b.data = nil
	return nil
}

// FromBytes wraps an existing byte slice as a standalone blob, used when a
// payload is produced wholesale (object stream expansion, decryption).
func FromBytes(data []byte) Blob { return &memBlob{data: data} }
