package crawlstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON document per file in a directory
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("crawlstate: state directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Load(ctx context.Context) (*State, error) {
	docs := make(map[string][]byte, len(Documents))
	for _, name := range Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := os.ReadFile(f.path(name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.path(name), err)
		}
		docs[name] = body
	}
	return Decode(docs)
}

// Save writes every document. Each file is replaced atomically, so a crash
// leaves either the old or the new version of it on disk.
func (f *FileStore) Save(ctx context.Context, s *State) error {
	docs, err := Encode(s)
	if err != nil {
		return err
	}
	for _, name := range Documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAtomic(f.path(name), docs[name]); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	tmp, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create temp file %s: %w", tempPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync temp file %s: %w", tempPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}
