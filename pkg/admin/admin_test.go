package admin

import (
	"bytes"
	"testing"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/jobstore"

	"github.com/stretchr/testify/assert"
)

type nopConn struct{ id string }

func (n *nopConn) ID() string                 { return n.id }
func (n *nopConn) Send(*command.Command) error { return nil }

func TestStatus(t *testing.T) {
	store := jobstore.New(nil)
	worker := &nopConn{id: "w1"}
	store.RegisterWorker("reverse", worker)

	sub, _ := command.ParseSubmit(command.Request(consts.SUBMIT_JOB_BG, []byte("upper\x00\x00abc")))
	store.CreateJob(sub, &nopConn{id: "c1"})

	out := bytes.Buffer{}
	assert.True(t, New(store, nil).Handle(&out, "status\r\n"))
	assert.Equal(t, "reverse\t0\t0\t1\nupper\t1\t0\t0\n.\n", out.String())
}

func TestWorkers(t *testing.T) {
	store := jobstore.New(nil)
	worker := &nopConn{id: "w1"}
	store.RegisterWorker("reverse", worker)
	store.RegisterWorker("alpha", worker)

	out := bytes.Buffer{}
	New(store, nil).Handle(&out, "workers")
	assert.Equal(t, "w1  - : alpha reverse\n.\n", out.String())
}

func TestVersionShutdownUnknown(t *testing.T) {
	stopped := false
	a := New(jobstore.New(nil), func() { stopped = true })

	out := bytes.Buffer{}
	assert.True(t, a.Handle(&out, "version\n"))
	assert.Equal(t, "OK gearbroker "+consts.VERSION+"\n", out.String())

	out.Reset()
	assert.True(t, a.Handle(&out, "shutdown\n"))
	assert.Equal(t, "OK\n", out.String())
	assert.True(t, stopped)

	out.Reset()
	assert.False(t, a.Handle(&out, "maxqueue reverse 10\n"))
	assert.Contains(t, out.String(), "ERR UNKNOWN_COMMAND")

	assert.False(t, a.Handle(&out, "   \n"))
}
