package models

import (
	"fmt"
	"sync"
	"time"

	"gearbroker/pkg/command"
	"gearbroker/pkg/consts"
)

type State int

const (
	QUEUED State = iota
	WORKING
	COMPLETE
)

func (s State) String() string {
	switch s {
	case QUEUED:
		return "QUEUED"
	case WORKING:
		return "WORKING"
	case COMPLETE:
		return "COMPLETE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Action is what the broker must do with a job after one of its
// connections went away.
type Action int

const (
	ActionDoNothing Action = iota
	ActionReenqueue
	ActionMarkComplete
)

func (a Action) String() string {
	switch a {
	case ActionReenqueue:
		return "REENQUEUE"
	case ActionMarkComplete:
		return "MARKCOMPLETE"
	}
	return "DONOTHING"
}

// IllegalTransitionError reports a state change the job state machine does
// not allow. It always points at a coordination bug.
type IllegalTransitionError struct {
	Handle string
	From   State
	To     State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.Handle, e.From, e.To)
}

type Job struct {
	Handle     string
	Func       string
	Unique     string
	Data       []byte
	Priority   consts.Priority
	Background bool
	Epoch      int64
	CreatedAt  time.Time

	mutex       sync.Mutex
	state       State
	worker      Conn
	clients     []Conn
	numerator   int
	denominator int
}

func NewJob(handle string, sub *command.Submit) *Job {
	return &Job{
		Handle:     handle,
		Func:       sub.Func,
		Unique:     sub.Unique,
		Data:       sub.Data,
		Priority:   sub.Priority,
		Background: sub.Background,
		Epoch:      sub.Epoch,
		CreatedAt:  time.Now(),
	}
}

func FromRecord(r *Record) *Job {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	return &Job{
		Handle:      r.Handle,
		Func:        r.Func,
		Unique:      r.Unique,
		Data:        r.Data,
		Priority:    r.Priority,
		Background:  r.Background,
		Epoch:       r.Epoch,
		CreatedAt:   created,
		numerator:   r.Numerator,
		denominator: r.Denominator,
	}
}

func (j *Job) Record() *Record {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return &Record{
		Handle:      j.Handle,
		Func:        j.Func,
		Unique:      j.Unique,
		Data:        j.Data,
		Priority:    j.Priority,
		Background:  j.Background,
		Epoch:       j.Epoch,
		Numerator:   j.numerator,
		Denominator: j.denominator,
		CreatedAt:   j.CreatedAt,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("%s :: %s(%s) %s", j.Handle, j.Func, j.Unique, j.State())
}

func (j *Job) State() State {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.state
}

// Ready reports whether the job may be dispatched at now.
func (j *Job) Ready(now time.Time) bool {
	return j.Epoch <= 0 || j.Epoch <= now.Unix()
}

// Assign moves a queued job to WORKING on worker.
func (j *Job) Assign(worker Conn) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.state != QUEUED {
		return &IllegalTransitionError{Handle: j.Handle, From: j.state, To: WORKING}
	}
	j.state = WORKING
	j.worker = worker
	return nil
}

// Requeue moves a WORKING job back to QUEUED. A QUEUED job is left alone.
// requeued is false in that case so callers do not add it to a queue twice.
func (j *Job) Requeue() (requeued bool, err error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	switch j.state {
	case QUEUED:
		return false, nil
	case WORKING:
		j.state = QUEUED
		j.worker = nil
		return true, nil
	}
	return false, &IllegalTransitionError{Handle: j.Handle, From: j.state, To: QUEUED}
}

func (j *Job) Complete() {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.state = COMPLETE
	j.worker = nil
}

// Discard completes a job only while it is still QUEUED. It reports false
// when a worker got to the job first.
func (j *Job) Discard() bool {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.state != QUEUED {
		return false
	}
	j.state = COMPLETE
	return true
}

func (j *Job) Worker() Conn {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.worker
}

// AddClient attaches a waiting client. Attaching the same connection twice
// is a no-op.
func (j *Job) AddClient(c Conn) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	for i := range j.clients {
		if j.clients[i] == c {
			return
		}
	}
	j.clients = append(j.clients, c)
}

func (j *Job) removeClient(c Conn) bool {
	for i := range j.clients {
		if j.clients[i] == c {
			j.clients = append(j.clients[:i], j.clients[i+1:]...)
			return true
		}
	}
	return false
}

func (j *Job) Clients() []Conn {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return append([]Conn(nil), j.clients...)
}

// DisconnectClient detaches c and decides what happens to the job.
//
// The assigned worker dropping a WORKING job re-enqueues it while somebody
// still cares about the result; otherwise the job is finished. A client
// leaving only discards a queued foreground job nobody waits for any more.
func (j *Job) DisconnectClient(c Conn) Action {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.state == WORKING && j.worker == c {
		if j.Background || len(j.clients) > 0 {
			return ActionReenqueue
		}
		return ActionMarkComplete
	}

	if !j.removeClient(c) {
		return ActionDoNothing
	}

	if j.state == QUEUED && !j.Background && len(j.clients) == 0 {
		return ActionMarkComplete
	}
	return ActionDoNothing
}

func (j *Job) SetStatus(numerator, denominator int) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.numerator, j.denominator = numerator, denominator
}

func (j *Job) Status() (numerator, denominator int) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.numerator, j.denominator
}

func (j *Job) CreatedPacket() *command.Command {
	return command.Response(consts.JOB_CREATED, []byte(j.Handle))
}

// AssignPacket builds JOB_ASSIGN, or JOB_ASSIGN_UNIQ carrying the unique id.
func (j *Job) AssignPacket(uniq bool) *command.Command {
	if uniq {
		return command.Response(
			consts.JOB_ASSIGN_UNIQ,
			[]byte(j.Handle), consts.NULLTERM,
			[]byte(j.Func), consts.NULLTERM,
			[]byte(j.Unique), consts.NULLTERM,
			j.Data,
		)
	}

	return command.Response(
		consts.JOB_ASSIGN,
		[]byte(j.Handle), consts.NULLTERM,
		[]byte(j.Func), consts.NULLTERM,
		j.Data,
	)
}

func (j *Job) StatusPacket() *command.Command {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return StatusResponse(j.Handle, true, j.state == WORKING, j.numerator, j.denominator)
}
