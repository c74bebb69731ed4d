package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"gearbroker/pkg/consts"
	"gearbroker/pkg/safemap"

	"github.com/hashicorp/go-hclog"
)

type Daemon struct {
	Addr    string
	Handler func(net.Conn)

	Storage string

	log           hclog.Logger
	socket        net.Listener
	conns         *safemap.Map[net.Conn, struct{}]
	wg            sync.WaitGroup
	shutting_down atomic.Bool
}

func New(addr, storage_addr string, handler func(net.Conn), log hclog.Logger) *Daemon {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Daemon{
		Addr:    addr,
		Storage: storage_addr,
		Handler: handler,
		log:     log,
		conns:   safemap.New[net.Conn, struct{}](),
	}
}

func (d *Daemon) Header() {
	d.log.Info("gearbroker", "version", consts.VERSION, "addr", "tcp://"+d.Addr, "storage", d.Storage)
}

// HandleSignals returns a context cancelled on SIGINT or SIGTERM.
func (d *Daemon) HandleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Listen binds the socket without accepting. ListenAndServe calls it when
// the daemon is not bound yet.
func (d *Daemon) Listen() (err error) {
	d.socket, err = net.Listen("tcp", d.Addr)
	if err != nil {
		return err
	}
	d.Addr = d.socket.Addr().String()
	return nil
}

func (d *Daemon) ListenAndServe(ctx context.Context) error {
	if d.socket == nil {
		if err := d.Listen(); err != nil {
			return err
		}
	}
	d.Header()

	go func() {
		<-ctx.Done()
		d.Close()
	}()

	var delay time.Duration
	for {
		conn, err := d.socket.Accept()
		if err != nil {
			if d.shutting_down.Load() || errors.Is(err, net.ErrClosed) {
				break
			}

			// back off on resource exhaustion instead of spinning
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay < time.Second {
				delay *= 2
			}
			d.log.Warn("accept failed", "error", err, "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		d.conns.Set(conn, struct{}{})
		if d.shutting_down.Load() {
			// raced with Close
			conn.Close()
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.conns.Delete(conn)
			d.Handler(conn)
		}()
	}

	d.wg.Wait()
	d.log.Info("stopped", "addr", d.Addr)
	return nil
}

// Close stops accepting and closes every live connection. Handlers observe
// the closed connection and run their own cleanup.
func (d *Daemon) Close() {
	if d.shutting_down.Swap(true) {
		return
	}

	d.log.Info("shutting down", "connections", d.conns.Len())
	if d.socket != nil {
		d.socket.Close()
	}

	for _, conn := range d.conns.GetKeys() {
		d.log.Debug("closing connection", "addr", conn.RemoteAddr())
		conn.Close()
	}
}
