package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gearbroker/pkg/models"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "gearbroker"

// Redis keeps every persisted job as one field of a single hash,
// "<prefix>::jobs", keyed by handle.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(u *url.URL) (*Redis, error) {
	prefix := u.Query().Get("prefix")
	if prefix == "" {
		prefix = defaultPrefix
	}

	// go-redis rejects query options it does not know
	clean := *u
	q := clean.Query()
	q.Del("prefix")
	clean.RawQuery = q.Encode()

	opts, err := redis.ParseURL(clean.String())
	if err != nil {
		return nil, fmt.Errorf("storage: redis url: %w", err)
	}

	r := &Redis{
		client: redis.NewClient(opts),
		key:    prefix + "::jobs",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("storage: redis failed: %w", err)
	}

	return r, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Write(job *models.Job) error {
	raw, err := json.Marshal(job.Record())
	if err != nil {
		return err
	}

	return r.client.HSet(context.Background(), r.key, job.Handle, raw).Err()
}

func (r *Redis) Delete(job *models.Job) error {
	return r.client.HDel(context.Background(), r.key, job.Handle).Err()
}

// ReadAll returns every record it could decode. Undecodable entries are
// reported in the joined error.
func (r *Redis) ReadAll() ([]*models.Record, error) {
	all, err := r.client.HGetAll(context.Background(), r.key).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*models.Record, 0, len(all))
	var errs []error
	for handle, raw := range all {
		rec := &models.Record{}
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", handle, err))
			continue
		}
		res = append(res, rec)
	}

	return res, errors.Join(errs...)
}

func (r *Redis) FindJobByHandle(handle string) (*models.Record, error) {
	raw, err := r.client.HGet(context.Background(), r.key, handle).Bytes()
	if errors.Is(err, redis.Nil) {
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
