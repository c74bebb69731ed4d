package subcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
)

var ErrJobFailed = errors.New("job failed")

func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}

// ShowStatus runs the admin "status" command and copies the table to w.
func ShowStatus(ctx context.Context, addr string, w io.Writer) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "status\n"); err != nil {
		return err
	}

	fmt.Fprintf(w, "%-24s %8s %8s %8s\n", "FUNCTION", "JOBS", "RUNNING", "WORKERS")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading status: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			return nil
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			return fmt.Errorf("malformed status line %q", line)
		}
		fmt.Fprintf(w, "%-24s %8s %8s %8s\n", parts[0], parts[1], parts[2], parts[3])
	}
}

type Job struct {
	Func       string
	Unique     string
	Data       []byte
	Priority   consts.Priority
	Background bool
}

func (j *Job) packet() int {
	switch {
	case j.Priority == consts.PriorityHigh && j.Background:
		return consts.SUBMIT_JOB_HIGH_BG
	case j.Priority == consts.PriorityHigh:
		return consts.SUBMIT_JOB_HIGH
	case j.Priority == consts.PriorityLow && j.Background:
		return consts.SUBMIT_JOB_LOW_BG
	case j.Priority == consts.PriorityLow:
		return consts.SUBMIT_JOB_LOW
	case j.Background:
		return consts.SUBMIT_JOB_BG
	}
	return consts.SUBMIT_JOB
}

// SubmitJob submits job and writes the handle for background jobs, or the
// job's output once it completes.
func SubmitJob(ctx context.Context, addr string, job Job, w io.Writer) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := command.Request(job.packet(),
		[]byte(job.Func), consts.NULLTERM,
		[]byte(job.Unique), consts.NULLTERM,
		job.Data,
	)
	if err := command.Write(conn, req); err != nil {
		return err
	}

	for {
		res, err := command.Read(conn)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", job.Func, err)
		}

		switch res.Task {
		case consts.JOB_CREATED:
			if job.Background {
				fmt.Fprintln(w, string(res.Data))
				return nil
			}

		case consts.WORK_DATA, consts.WORK_WARNING:
			_, payload := res.ParseResult()
			w.Write(payload)

		case consts.WORK_STATUS:
			// progress is not shown

		case consts.WORK_COMPLETE:
			_, payload := res.ParseResult()
			w.Write(payload)
			return nil

		case consts.WORK_FAIL:
			return fmt.Errorf("%w: %s", ErrJobFailed, res.Data)

		case consts.WORK_EXCEPTION:
			handle, payload := res.ParseResult()
			return fmt.Errorf("%w: %s: %s", ErrJobFailed, handle, payload)

		case consts.ERROR:
			args := res.Args(2)
			return fmt.Errorf("server error: %s", bytesJoin(args))

		default:
			return fmt.Errorf("unexpected %s", consts.String(res.Task))
		}
	}
}

func bytesJoin(args [][]byte) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ": ")
}
