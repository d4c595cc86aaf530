package store

import "context"

// memoryBackend keeps the document in process memory. It implements the same
// backend contract as the durable stores so tests exercise the identical
// read-modify-write path.
type memoryBackend struct {
	doc []byte
}

// NewMemoryStore creates a volatile identity store for tests and throwaway
// runs.
func NewMemoryStore() *DocStore {
	return newDocStore(&memoryBackend{})
}

func (b *memoryBackend) read(ctx context.Context) ([]byte, error) {
	if b.doc == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(b.doc))
	copy(out, b.doc)
	return out, nil
}

func (b *memoryBackend) write(ctx context.Context, doc []byte) error {
	b.doc = make([]byte, len(doc))
	copy(b.doc, doc)
	return nil
}

func (b *memoryBackend) Name() string { return "memory" }
