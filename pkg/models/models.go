package models

import (
	"fmt"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
)

// Conn is the broker's view of a peer connection. Implementations must be
// comparable (pointer types) since connections are used as map keys.
type Conn interface {
	ID() string
	Send(cmd *command.Command) error
}

// Record is the persisted form of a Job.
type Record struct {
	Handle      string          `json:"handle"`
	Func        string          `json:"func"`
	Unique      string          `json:"unique"`
	Data        []byte          `json:"data"`
	Priority    consts.Priority `json:"priority"`
	Background  bool            `json:"background"`
	Epoch       int64           `json:"epoch,omitempty"`
	Numerator   int             `json:"numerator"`
	Denominator int             `json:"denominator"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (r *Record) String() string {
	return fmt.Sprintf("%s :: %s(%s)", r.Handle, r.Func, r.Unique)
}

type FuncStatus struct {
	Name       string `json:"name"`
	Workers    int64  `json:"workers"`
	Jobs       int64  `json:"jobs"`
	InProgress int64  `json:"in_progress"`
}

type WorkerStatus struct {
	ID        string   `json:"id"`
	ClientID  string   `json:"client_id"`
	Addr      string   `json:"addr"`
	Functions []string `json:"functions"`
	Sleeping  bool     `json:"sleeping"`
	Job       string   `json:"job,omitempty"`
}

// StatusResponse builds STATUS_RES. An unknown handle answers all zeros.
func StatusResponse(handle string, known, running bool, numerator, denominator int) *command.Command {
	return command.Response(
		consts.STATUS_RES,
		[]byte(handle), consts.NULLTERM,
		flag(known), consts.NULLTERM,
		flag(running), consts.NULLTERM,
		[]byte(fmt.Sprint(numerator)), consts.NULLTERM,
		[]byte(fmt.Sprint(denominator)),
	)
}

func flag(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}
