package subcmd

import (
	"bytes"
	"context"
	"net"
	"slices"
	"testing"
	"time"

	"gearbroker/pkg/admin"
	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/daemon"
	"gearbroker/pkg/handler"
	"gearbroker/pkg/jobstore"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T) string {
	t.Helper()

	store := jobstore.New(nil)
	h := handler.New(store, admin.New(store, nil), hclog.NewNullLogger(), time.Second)

	d := daemon.New("127.0.0.1:0", "none://", h.Serve, nil)
	require.NoError(t, d.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go d.ListenAndServe(ctx)
	t.Cleanup(cancel)

	return d.Addr
}

// reverser is a minimal worker for the "reverse" function.
func reverser(t *testing.T, addr string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		command.Write(conn, command.Request(consts.CAN_DO, []byte("reverse")))
		command.Write(conn, command.Request(consts.GRAB_JOB))

		for {
			res, err := command.Read(conn)
			if err != nil {
				return
			}

			switch res.Task {
			case consts.NO_JOB:
				command.Write(conn, command.Request(consts.PRE_SLEEP))
			case consts.NOOP:
				command.Write(conn, command.Request(consts.GRAB_JOB))
			case consts.JOB_ASSIGN:
				args := res.Args(3)
				out := slices.Clone(args[2])
				slices.Reverse(out)
				command.Write(conn, command.Request(consts.WORK_COMPLETE, args[0], consts.NULLTERM, out))
				command.Write(conn, command.Request(consts.GRAB_JOB))
			}
		}
	}()
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitJob(t *testing.T) {
	addr := serve(t)
	reverser(t, addr)

	var out bytes.Buffer
	err := SubmitJob(timeout(t), addr, Job{Func: "reverse", Data: []byte("hello"), Priority: consts.PriorityNormal}, &out)
	require.NoError(t, err)
	assert.Equal(t, "olleh", out.String())
}

func TestSubmitBackground(t *testing.T) {
	addr := serve(t)

	var out bytes.Buffer
	err := SubmitJob(timeout(t), addr, Job{Func: "reverse", Data: []byte("x"), Priority: consts.PriorityHigh, Background: true}, &out)
	require.NoError(t, err)
	assert.Regexp(t, `^H:.+:\d+\n$`, out.String())

	var status bytes.Buffer
	require.NoError(t, ShowStatus(timeout(t), addr, &status))
	assert.Contains(t, status.String(), "reverse")
	assert.Regexp(t, `reverse\s+1\s+0\s+0`, status.String())
}

func TestSubmitUnreachable(t *testing.T) {
	err := SubmitJob(timeout(t), "127.0.0.1:1", Job{Func: "reverse"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPacketForJob(t *testing.T) {
	cases := []struct {
		job  Job
		want int
	}{
		{Job{Priority: consts.PriorityNormal}, consts.SUBMIT_JOB},
		{Job{Priority: consts.PriorityNormal, Background: true}, consts.SUBMIT_JOB_BG},
		{Job{Priority: consts.PriorityHigh}, consts.SUBMIT_JOB_HIGH},
		{Job{Priority: consts.PriorityHigh, Background: true}, consts.SUBMIT_JOB_HIGH_BG},
		{Job{Priority: consts.PriorityLow}, consts.SUBMIT_JOB_LOW},
		{Job{Priority: consts.PriorityLow, Background: true}, consts.SUBMIT_JOB_LOW_BG},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.job.packet(), consts.String(c.want))
	}
}
