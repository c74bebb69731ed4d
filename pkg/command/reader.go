package command

import (
	"fmt"
	"io"
)

// Read blocks until one complete frame has been read from r.
//
// A stream that ends inside the header yields ErrNoMessage. Anything that
// goes wrong after a full header was read is an ErrDecode and leaves the
// stream at an unknown offset.
func Read(r io.Reader) (*Command, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMessage, err)
	}

	c, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	if c.Size == 0 {
		return c, nil
	}

	c.Data = make([]byte, c.Size)
	if _, err := io.ReadFull(r, c.Data); err != nil {
		return nil, fmt.Errorf("%w: short payload: %w", ErrDecode, err)
	}

	return c, nil
}

// Write serialises c and writes it in a single call.
func Write(w io.Writer, c *Command) error {
	_, err := w.Write(c.Bytes())
	return err
}
