package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gearbroker/pkg/command"
	"gearbroker/pkg/models"
	"gearbroker/pkg/storage"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) http.Handler {
	t.Helper()

	engine, err := storage.NewStorage("memdb://")
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	for handle, fn := range map[string]string{"H:old:1": "reverse", "H:old:2": "reverse", "H:old:3": "upper"} {
		job := models.NewJob(handle, &command.Submit{Func: fn, Unique: handle, Data: []byte("abc"), Background: true})
		require.NoError(t, engine.Write(job))
	}

	o := &observer{engine: engine, log: hclog.NewNullLogger()}
	return o.router()
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestSummary(t *testing.T) {
	w := get(setup(t), "/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reverse\t2\nupper\t1\n.\n", w.Body.String())
}

func TestList(t *testing.T) {
	w := get(setup(t), "/jobs")
	require.Equal(t, http.StatusOK, w.Code)

	var recs []*models.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 3)
}

func TestJob(t *testing.T) {
	router := setup(t)

	w := get(router, "/jobs/H:old:3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"func":"upper"`)
	assert.Contains(t, w.Body.String(), `"state":"PERSISTED"`)

	assert.Equal(t, http.StatusNotFound, get(router, "/jobs/H:old:9").Code)
}
