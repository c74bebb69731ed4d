package storage

import (
	"path/filepath"
	"sort"
	"testing"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(handle, unique string, p consts.Priority) *models.Job {
	return models.NewJob(handle, &command.Submit{
		Func:       "reverse",
		Unique:     unique,
		Data:       []byte("payload-" + unique),
		Priority:   p,
		Background: true,
	})
}

func engines(t *testing.T) map[string]Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	dir := t.TempDir()

	uris := map[string]string{
		"redis":   "redis://" + mr.Addr() + "/0?prefix=test",
		"mem":     "mem://",
		"sqlite":  "sqlite://" + filepath.Join(dir, "jobs.db"),
		"leveldb": "leveldb://" + filepath.Join(dir, "jobs.ldb"),
		"memdb":   "memdb://",
	}

	res := map[string]Engine{}
	for name, uri := range uris {
		e, err := NewStorage(uri)
		require.NoError(t, err, name)
		require.NotNil(t, e, name)
		t.Cleanup(func() { e.Close() })
		res[name] = e
	}
	return res
}

func TestEngines(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			a := newJob("H:test:1", "a", consts.PriorityHigh)
			b := newJob("H:test:2", "b", consts.PriorityLow)
			b.Epoch = 1700000000

			require.NoError(t, e.Write(a))
			require.NoError(t, e.Write(b))

			all, err := e.ReadAll()
			require.NoError(t, err)
			require.Len(t, all, 2)
			sort.Slice(all, func(i, j int) bool { return all[i].Handle < all[j].Handle })

			assert.Equal(t, "reverse", all[0].Func)
			assert.Equal(t, "a", all[0].Unique)
			assert.Equal(t, []byte("payload-a"), all[0].Data)
			assert.Equal(t, consts.PriorityHigh, all[0].Priority)
			assert.True(t, all[0].Background)
			assert.Equal(t, int64(1700000000), all[1].Epoch)
			assert.Equal(t, consts.PriorityLow, all[1].Priority)

			a.SetStatus(5, 7)
			require.NoError(t, e.Write(a))

			rec, err := e.FindJobByHandle("H:test:1")
			require.NoError(t, err)
			assert.Equal(t, 5, rec.Numerator)
			assert.Equal(t, 7, rec.Denominator)

			all, err = e.ReadAll()
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, e.Delete(a))
			_, err = e.FindJobByHandle("H:test:1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, e.Delete(a))

			all, err = e.ReadAll()
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "H:test:2", all[0].Handle)
		})
	}
}

func TestFindMissing(t *testing.T) {
	for name, e := range engines(t) {
		_, err := e.FindJobByHandle("H:nope:0")
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
}

func TestLevelDBReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs.ldb")

	e, err := NewLevelDBBackend(dir)
	require.NoError(t, err)
	require.NoError(t, e.Write(newJob("H:test:9", "z", consts.PriorityNormal)))
	require.NoError(t, e.Close())

	e, err = NewLevelDBBackend(dir)
	require.NoError(t, err)
	defer e.Close()

	all, err := e.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "H:test:9", all[0].Handle)
}

func TestMemBackendsAreIsolated(t *testing.T) {
	a, err := NewMemBackend()
	require.NoError(t, err)
	defer a.Close()

	b, err := NewMemBackend()
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Write(newJob("H:test:1", "a", consts.PriorityNormal)))

	all, err := b.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemDBByFunc(t *testing.T) {
	m, err := NewMemDBBackend()
	require.NoError(t, err)

	require.NoError(t, m.Write(newJob("H:test:1", "a", consts.PriorityNormal)))
	other := models.NewJob("H:test:2", &command.Submit{Func: "upper", Unique: "b", Background: true})
	require.NoError(t, m.Write(other))

	res, err := m.ByFunc("upper")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "H:test:2", res[0].Handle)
}

func TestRedisPrefix(t *testing.T) {
	mr := miniredis.RunT(t)

	e, err := NewStorage("redis://" + mr.Addr() + "/0?prefix=broker-a")
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Write(newJob("H:test:1", "a", consts.PriorityNormal)))
	keys, err := mr.HKeys("broker-a::jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"H:test:1"}, keys)
}

func TestRedisUndecodableRecord(t *testing.T) {
	mr := miniredis.RunT(t)

	e, err := NewStorage("redis://" + mr.Addr())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Write(newJob("H:test:1", "a", consts.PriorityNormal)))
	mr.HSet("gearbroker::jobs", "H:broken", "{not json")

	all, err := e.ReadAll()
	assert.Error(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "H:test:1", all[0].Handle)
}

func TestNewStorage(t *testing.T) {
	e, err := NewStorage("none://")
	assert.NoError(t, err)
	assert.Nil(t, e)

	_, err = NewStorage("mongodb://localhost")
	assert.Error(t, err)

	_, err = NewStorage("sqlite://")
	assert.Error(t, err)

	_, err = NewStorage("redis://127.0.0.1:1")
	assert.Error(t, err)
}
