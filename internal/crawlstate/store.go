package crawlstate

import (
	"context"
	"fmt"
)

// Store persists crawl state between runs. Load of a store that has never
// been saved returns an empty State.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at path. For the file backend
// path is a directory; for sqlite it is the database file.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("crawlstate: unknown backend %q", backend)
	}
}
