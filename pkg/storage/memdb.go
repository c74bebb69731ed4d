package storage

import (
	"errors"

	"gearbroker/pkg/models"

	"github.com/hashicorp/go-memdb"
)

const jobTable = "job"

func memdbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobTable: {
				Name: jobTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Handle"},
					},
					"func": {
						Name:         "func",
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Func"},
					},
				},
			},
		},
	}
}

// MemDB is a process-local engine. It does not survive a restart but lets
// the broker run its persistence path without any external service.
type MemDB struct {
	db *memdb.MemDB
}

func NewMemDBBackend() (*MemDB, error) {
	db, err := memdb.NewMemDB(memdbSchema())
	if err != nil {
		return nil, err
	}
	return &MemDB{db: db}, nil
}

func (m *MemDB) Close() error {
	return nil
}

func (m *MemDB) Write(job *models.Job) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(jobTable, job.Record()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *MemDB) Delete(job *models.Job) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	err := txn.Delete(jobTable, &models.Record{Handle: job.Handle})
	if errors.Is(err, memdb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *MemDB) ReadAll() ([]*models.Record, error) {
	return m.list("id")
}

// ByFunc returns the persisted jobs of one function.
func (m *MemDB) ByFunc(fn string) ([]*models.Record, error) {
	return m.list("func", fn)
}

func (m *MemDB) list(index string, args ...any) ([]*models.Record, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(jobTable, index, args...)
	if err != nil {
		return nil, err
	}

	res := []*models.Record{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := *obj.(*models.Record)
		res = append(res, &r)
	}
	return res, nil
}

func (m *MemDB) FindJobByHandle(handle string) (*models.Record, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(jobTable, "id", handle)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNotFound
	}

	r := *obj.(*models.Record)
	return &r, nil
}
