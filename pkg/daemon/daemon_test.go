package daemon

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoes each frame back as a response, enough to drive the accept loop
func echo(conn net.Conn) {
	defer conn.Close()
	for {
		cmd, err := command.Read(conn)
		if err != nil {
			return
		}
		if err := command.Write(conn, command.Response(cmd.Task, cmd.Data)); err != nil {
			return
		}
	}
}

func start(t *testing.T) (*Daemon, context.CancelFunc, chan error) {
	t.Helper()

	d := New("127.0.0.1:0", "none://", echo, nil)
	require.NoError(t, d.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.ListenAndServe(ctx) }()

	t.Cleanup(cancel)
	return d, cancel, done
}

func TestListenAndServeLargeFrames(t *testing.T) {
	d, _, _ := start(t)

	conn, err := net.Dial("tcp", d.Addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	payload := []byte("reverse\x00\x00")
	for i := 0; i < 10982; i++ {
		payload = append(payload, 1)
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, command.Write(conn, command.Request(consts.SUBMIT_JOB_BG, payload)))
	}
	for i := 0; i < 3; i++ {
		res, err := command.Read(conn)
		require.NoError(t, err)
		assert.Equal(t, consts.SUBMIT_JOB_BG, res.Task)
		assert.Equal(t, payload, res.Data)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	d, cancel, done := start(t)

	conn, err := net.Dial("tcp", d.Addr)
	require.NoError(t, err)
	defer conn.Close()

	// make sure the connection is tracked before shutting down
	require.NoError(t, command.Write(conn, command.Request(consts.ECHO_REQ, []byte("x"))))
	_, err = command.Read(conn)
	require.NoError(t, err)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.Dial("tcp", d.Addr)
	assert.Error(t, err)

	// a second close is a no-op
	d.Close()
}
