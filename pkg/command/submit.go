package command

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"gearbroker/pkg/consts"
)

// ErrUnsupported is returned for submissions the broker understands but
// does not implement (cron schedules, reduce jobs).
var ErrUnsupported = errors.New("command: unsupported submission")

// Submit is the decoded form of every SUBMIT_JOB* packet.
type Submit struct {
	Task       int
	Func       string
	Unique     string
	Data       []byte
	Priority   consts.Priority
	Background bool
	Epoch      int64
}

func ParseSubmit(c *Command) (*Submit, error) {
	s := &Submit{
		Task:     c.Task,
		Priority: consts.PriorityNormal,
	}

	switch c.Task {
	case consts.SUBMIT_JOB:
	case consts.SUBMIT_JOB_BG:
		s.Background = true
	case consts.SUBMIT_JOB_HIGH:
		s.Priority = consts.PriorityHigh
	case consts.SUBMIT_JOB_HIGH_BG:
		s.Priority = consts.PriorityHigh
		s.Background = true
	case consts.SUBMIT_JOB_LOW:
		s.Priority = consts.PriorityLow
	case consts.SUBMIT_JOB_LOW_BG:
		s.Priority = consts.PriorityLow
		s.Background = true
	case consts.SUBMIT_JOB_EPOCH:
		return parseEpoch(c, s)
	case consts.SUBMIT_JOB_SCHED, consts.SUBMIT_REDUCE_JOB, consts.SUBMIT_REDUCE_JOB_BACKGROUND:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, consts.String(c.Task))
	default:
		return nil, fmt.Errorf("%w: %s is not a submission", ErrDecode, consts.String(c.Task))
	}

	args := c.Args(3)
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: %s wants 3 arguments, got %d", ErrDecode, consts.String(c.Task), len(args))
	}

	s.Func, s.Unique, s.Data = string(args[0]), string(args[1]), bytes.Clone(args[2])
	if s.Func == "" {
		return nil, fmt.Errorf("%w: empty function name", ErrDecode)
	}

	return s, nil
}

// SUBMIT_JOB_EPOCH is a background job that becomes eligible at a unix time.
func parseEpoch(c *Command, s *Submit) (*Submit, error) {
	args := c.Args(4)
	if len(args) != 4 {
		return nil, fmt.Errorf("%w: SUBMIT_JOB_EPOCH wants 4 arguments, got %d", ErrDecode, len(args))
	}

	epoch, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad epoch %q", ErrDecode, args[2])
	}

	s.Func, s.Unique, s.Epoch, s.Data = string(args[0]), string(args[1]), epoch, bytes.Clone(args[3])
	s.Background = true
	if s.Func == "" {
		return nil, fmt.Errorf("%w: empty function name", ErrDecode)
	}

	return s, nil
}

// ParseResult splits a WORK_COMPLETE, WORK_FAIL, WORK_EXCEPTION, WORK_DATA
// or WORK_WARNING payload into the job handle and the opaque data.
func (c *Command) ParseResult() (handle string, payload []byte) {
	tmp := c.Args(2)
	if len(tmp) == 2 {
		return string(tmp[0]), tmp[1]
	}
	return string(tmp[0]), nil
}

func (c *Command) ParseWorkStatus() (handle string, numerator int, denominator int, err error) {
	tmp := c.Args(3)
	if len(tmp) != 3 {
		return "", 0, 0, fmt.Errorf("%w: WORK_STATUS wants 3 arguments, got %d", ErrDecode, len(tmp))
	}

	if numerator, err = strconv.Atoi(string(tmp[1])); err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad numerator %q", ErrDecode, tmp[1])
	}
	if denominator, err = strconv.Atoi(string(tmp[2])); err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad denominator %q", ErrDecode, tmp[2])
	}

	return string(tmp[0]), numerator, denominator, nil
}

// ParseCanDo returns the function name of CAN_DO and CAN_DO_TIMEOUT. The
// timeout is accepted and ignored.
func (c *Command) ParseCanDo() string {
	if c.Task == consts.CAN_DO_TIMEOUT {
		return string(c.Args(2)[0])
	}
	return string(c.Data)
}
