package storage

import (
	"errors"
	"fmt"
	"net/url"

	"gearbroker/pkg/models"
)

var ErrNotFound = errors.New("storage: job not found")

// Engine persists background jobs so they survive a restart. The broker
// treats every engine error as non-fatal.
type Engine interface {
	Write(job *models.Job) error
	Delete(job *models.Job) error
	ReadAll() ([]*models.Record, error)
	FindJobByHandle(handle string) (*models.Record, error)
	Close() error
}

// NewStorage opens the engine selected by the URI scheme:
//
//	redis://host:port/db?prefix=name
//	mem://
//	sqlite:///path/to/file.db
//	leveldb:///path/to/dir
//	memdb://
//	none://
//
// none:// returns a nil Engine and no error.
func NewStorage(uri string) (Engine, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("storage is not available, check URI %s: %w", uri, err)
	}

	var backend Engine
	switch u.Scheme {
	case "redis", "rediss":
		backend, err = NewRedisBackend(u)
	case "mem":
		backend, err = NewMemBackend()
	case "sqlite":
		backend, err = NewSQLiteBackend(u.Host + u.Path)
	case "leveldb":
		backend, err = NewLevelDBBackend(u.Host + u.Path)
	case "memdb":
		backend, err = NewMemDBBackend()
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("storage is not available, check URI %s", uri)
	}

	if err != nil {
		return nil, err
	}
	return backend, nil
}
