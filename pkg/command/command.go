package command

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"gearbroker/pkg/consts"
)

// HeaderSize is the fixed frame header: 4 bytes magic, 4 bytes packet type,
// 4 bytes signed big-endian payload length.
const HeaderSize = 12

// MaxPayload bounds a single frame so a corrupt length cannot force a huge
// allocation.
const MaxPayload = 64 << 20

var (
	// ErrNoMessage means the stream ended before a full header arrived.
	// Callers treat it as a closed connection, not as corruption.
	ErrNoMessage = errors.New("command: no message")

	// ErrDecode means a frame could not be decoded. The stream cannot be
	// resynchronised after it.
	ErrDecode = errors.New("command: decode failed")
)

type Command struct {
	Type int
	Task int
	Size int
	Data []byte
}

func New(op_type int, task int, args ...[]byte) *Command {
	size := 0
	for i := range args {
		size += len(args[i])
	}

	data := make([]byte, 0, size)
	for i := range args {
		data = append(data, args[i]...)
	}

	return &Command{
		Type: op_type,
		Task: task,
		Size: size,
		Data: data,
	}
}

func Response(task int, args ...[]byte) *Command {
	return New(consts.RESPONSE, task, args...)
}

func Request(task int, args ...[]byte) *Command {
	return New(consts.REQUEST, task, args...)
}

// Decode parses one complete frame from raw. A header-only buffer is a
// valid frame with an empty payload.
func Decode(raw []byte) (*Command, error) {
	if len(raw) < HeaderSize {
		return nil, ErrNoMessage
	}

	c, err := parseHeader(raw[:HeaderSize])
	if err != nil {
		return nil, err
	}

	if len(raw) < HeaderSize+c.Size {
		return nil, fmt.Errorf("%w: payload truncated, want %d bytes got %d", ErrDecode, c.Size, len(raw)-HeaderSize)
	}
	c.Data = raw[HeaderSize : HeaderSize+c.Size]

	return c, nil
}

func parseHeader(raw []byte) (*Command, error) {
	c := &Command{}
	if bytes.Equal(raw[0:4], consts.REQ) {
		c.Type = consts.REQUEST
	} else if bytes.Equal(raw[0:4], consts.RES) {
		c.Type = consts.RESPONSE
	} else {
		return nil, fmt.Errorf("%w: bad magic %q", ErrDecode, raw[0:4])
	}

	c.Task = int(binary.BigEndian.Uint32(raw[4:8]))

	size := int32(binary.BigEndian.Uint32(raw[8:12]))
	if size > 0 {
		c.Size = int(size)
	}
	if c.Size > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrDecode, c.Size)
	}

	return c, nil
}

func (c *Command) Bytes() []byte {
	res := make([]byte, HeaderSize, HeaderSize+len(c.Data))
	if c.Type == consts.RESPONSE {
		copy(res[0:4], consts.RES)
	} else {
		copy(res[0:4], consts.REQ)
	}

	binary.BigEndian.PutUint32(res[4:8], uint32(c.Task))
	binary.BigEndian.PutUint32(res[8:12], uint32(len(c.Data)))

	return append(res, c.Data...)
}

// Args splits the payload into at most n NULL separated arguments.
func (c *Command) Args(n int) [][]byte {
	return bytes.SplitN(c.Data, consts.NULLTERM, n)
}

func (c *Command) String() string {
	kind := "REQ"
	if c.Type == consts.RESPONSE {
		kind = "RES"
	}
	return fmt.Sprintf("%s %s (%d bytes)", kind, consts.String(c.Task), len(c.Data))
}
