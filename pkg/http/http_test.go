package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/jobstore"
	"gearbroker/pkg/models"
	"gearbroker/pkg/storage"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ id string }

func (n *nopConn) ID() string                       { return n.id }
func (n *nopConn) Send(cmd *command.Command) error { return nil }

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func setup(t *testing.T, engine storage.Engine) (*jobstore.Store, http.Handler) {
	t.Helper()

	store := jobstore.New(engine)
	return store, NewAPI(store, hclog.NewNullLogger()).Router()
}

func submit(store *jobstore.Store, fn string, background bool) {
	store.CreateJob(&command.Submit{
		Func:       fn,
		Data:       []byte("abc"),
		Priority:   consts.PriorityNormal,
		Background: background,
	}, &nopConn{id: "client"})
}

func TestStatus(t *testing.T) {
	store, router := setup(t, nil)
	submit(store, "reverse", false)
	store.RegisterWorker("upper", &nopConn{id: "w1"})

	w := get(t, router, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var fns []*models.FuncStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fns))
	require.Len(t, fns, 2)
	assert.Equal(t, "reverse", fns[0].Name)
	assert.Equal(t, int64(1), fns[0].Jobs)
	assert.Equal(t, int64(1), fns[1].Workers)

	w = get(t, router, "/status?format=text")
	assert.Equal(t, "reverse\t1\t0\t0\nupper\t0\t0\t1\n.\n", w.Body.String())
}

func TestWorkers(t *testing.T) {
	store, router := setup(t, nil)
	store.RegisterWorker("reverse", &nopConn{id: "w1"})

	w := get(t, router, "/workers")
	require.Equal(t, http.StatusOK, w.Code)

	var workers []*models.WorkerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "w1", workers[0].ID)
	assert.Equal(t, []string{"reverse"}, workers[0].Functions)
}

func TestJobs(t *testing.T) {
	engine, err := storage.NewMemDBBackend()
	require.NoError(t, err)

	store, router := setup(t, engine)
	submit(store, "reverse", true)

	persisted := get(t, router, "/persisted")
	require.Equal(t, http.StatusOK, persisted.Code)

	var recs []*models.Record
	require.NoError(t, json.Unmarshal(persisted.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	handle := recs[0].Handle

	w := get(t, router, "/jobs/"+handle)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"QUEUED"`)
	assert.Contains(t, w.Body.String(), `"func":"reverse"`)

	// only the engine knows about it now
	job, ok := store.Job(handle)
	require.True(t, ok)
	store.RemoveJob(job)
	require.NoError(t, engine.Write(job))

	w = get(t, router, "/jobs/"+handle)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"PERSISTED"`)

	w = get(t, router, "/jobs/H:nope:1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobsWithoutEngine(t *testing.T) {
	_, router := setup(t, nil)

	w := get(t, router, "/persisted")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, router, "/jobs/H:nope:1").Code)
}

func TestMetrics(t *testing.T) {
	store, router := setup(t, nil)
	submit(store, "reverse", false)

	w := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "gearbroker_pending_jobs 1"), body)
	assert.Contains(t, body, "gearbroker_queued_jobs_total 1")
}

func TestHealth(t *testing.T) {
	_, router := setup(t, nil)
	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
}
