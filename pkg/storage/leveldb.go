package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"gearbroker/pkg/models"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const PRE_JOB = "job:"

type LevelDB struct {
	db *leveldb.DB
}

func NewLevelDBBackend(path string) (*LevelDB, error) {
	if path == "" {
		return nil, errors.New("storage: leveldb needs a directory, leveldb:///path/to/dir")
	}

	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: leveldb %s: %w", path, err)
	}

	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) Write(job *models.Job) error {
	raw, err := json.Marshal(job.Record())
	if err != nil {
		return err
	}

	return l.db.Put([]byte(PRE_JOB+job.Handle), raw, nil)
}

func (l *LevelDB) Delete(job *models.Job) error {
	return l.db.Delete([]byte(PRE_JOB+job.Handle), nil)
}

func (l *LevelDB) ReadAll() ([]*models.Record, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(PRE_JOB)), nil)
	defer iter.Release()

	res := []*models.Record{}
	var errs []error
	for iter.Next() {
		rec := &models.Record{}
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", iter.Key(), err))
			continue
		}
		res = append(res, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return res, errors.Join(errs...)
}

func (l *LevelDB) FindJobByHandle(handle string) (*models.Record, error) {
	raw, err := l.db.Get([]byte(PRE_JOB+handle), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &models.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("record %s: %w", handle, err)
	}
	return rec, nil
}
