package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gearbroker/pkg/consts"
	"gearbroker/pkg/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	DB    *sql.DB
	stmts sync.Map
}

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		handle      TEXT NOT NULL PRIMARY KEY,
		func        TEXT NOT NULL,
		uniq        TEXT NOT NULL,
		priority    INT,
		background  INT,
		epoch       INT,
		numerator   INT,
		denominator INT,
		created_at  INT,
		payload     BLOB
	);
	CREATE INDEX IF NOT EXISTS jobs_func ON jobs (func);
	`

const jobColumns = `handle, func, uniq, priority, background, epoch, numerator, denominator, created_at, payload`

// NewMemBackend opens a private in-memory database. Each call gets its own
// database name so engines never see each other's rows.
func NewMemBackend() (*SQLite, error) {
	return openSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
}

func NewSQLiteBackend(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite needs a file path, sqlite:///path/to/file.db")
	}
	return openSQLite("file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

func openSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// a shared in-memory database lives as long as one connection does
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: sqlite schema: %w", err)
	}

	return &SQLite{DB: db}, nil
}

func (s *SQLite) Close() error {
	s.stmts.Range(func(_, stmt any) bool {
		stmt.(*sql.Stmt).Close()
		return true
	})
	return s.DB.Close()
}

func (s *SQLite) GetStmt(SQL string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts.Load(SQL); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.DB.Prepare(SQL)
	if err != nil {
		return nil, err
	}
	if prev, loaded := s.stmts.LoadOrStore(SQL, stmt); loaded {
		stmt.Close()
		return prev.(*sql.Stmt), nil
	}
	return stmt, nil
}

func (s *SQLite) Write(job *models.Job) error {
	stmt, err := s.GetStmt(`INSERT OR REPLACE INTO jobs (` + jobColumns + `) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}

	r := job.Record()
	_, err = stmt.Exec(
		r.Handle, r.Func, r.Unique, int(r.Priority), r.Background, r.Epoch,
		r.Numerator, r.Denominator, r.CreatedAt.UnixNano(), r.Data,
	)
	return err
}

func (s *SQLite) Delete(job *models.Job) error {
	stmt, err := s.GetStmt("DELETE FROM jobs WHERE handle = ?")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(job.Handle)
	return err
}

func (s *SQLite) ReadAll() ([]*models.Record, error) {
	stmt, err := s.GetStmt(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*models.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}

	return res, rows.Err()
}

func (s *SQLite) FindJobByHandle(handle string) (*models.Record, error) {
	stmt, err := s.GetStmt(`SELECT ` + jobColumns + ` FROM jobs WHERE handle = ?`)
	if err != nil {
		return nil, err
	}

	r, err := scanRecord(stmt.QueryRow(handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	r := &models.Record{}

	var priority int
	var created int64
	err := row.Scan(
		&r.Handle, &r.Func, &r.Unique, &priority, &r.Background, &r.Epoch,
		&r.Numerator, &r.Denominator, &created, &r.Data,
	)
	if err != nil {
		return nil, err
	}

	r.Priority = consts.Priority(priority)
	r.CreatedAt = time.Unix(0, created)
	return r, nil
}
