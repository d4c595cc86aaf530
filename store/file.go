package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// fileBackend stores the identity document in a single file. When a
// passphrase is set the document is sealed at rest, which is the closest
// filesystem analogue to the keychain the identity originally lived in.
type fileBackend struct {
	path       string
	passphrase string
	log        *slog.Logger
}

// NewFileStore creates a file-backed identity store at the given path. The
// parent directory is created if needed. With a non-empty passphrase the
// document is encrypted at rest.
func NewFileStore(path, passphrase string, log *slog.Logger) (*DocStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	return newDocStore(&fileBackend{
		path:       path,
		passphrase: passphrase,
		log:        log,
	}), nil
}

func (b *fileBackend) read(ctx context.Context) ([]byte, error) {
	doc, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	if b.passphrase != "" {
		doc, err = open(b.passphrase, doc)
		if err != nil {
			return nil, err
		}
	}

	b.log.Debug("Read identity document",
		slog.String("path", b.path),
		slog.Int("size", len(doc)))
	return doc, nil
}

// write replaces the document via a temp file and rename so a crash mid-write
// never leaves a truncated identity behind.
func (b *fileBackend) write(ctx context.Context, doc []byte) error {
	if b.passphrase != "" {
		var err error
		doc, err = seal(b.passphrase, doc)
		if err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".identity-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace identity file: %w", err)
	}

	b.log.Debug("Stored identity document",
		slog.String("path", b.path),
		slog.Bool("sealed", b.passphrase != ""))
	return nil
}

func (b *fileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}
