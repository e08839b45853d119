// Package fpgalink talks to an FPGALink bridge over USB bulk endpoints.
//
// Every channel operation is one command on the OUT endpoint:
//
//	Byte| Meaning
//	----+--------------------------------------------
//	0   | channel (bit 7 set for a read)
//	1:4 | transfer length, big-endian
//	5:  | payload (writes only)
//
// Read payloads then arrive on the IN endpoint.
package fpgalink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/gousb"
)

const (
	outEndpoint = 6 // EP6OUT
	inEndpoint  = 8 // EP8IN

	readFlag   = 0x80
	headerSize = 5

	timeout = 5 * time.Second
)

// Conn is an open FPGALink device. It implements spicard.Transport.
type Conn struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint
}

// ParseVIDPID parses "vvvv:pppp" (hexadecimal).
func ParseVIDPID(s string) (gousb.ID, gousb.ID, error) {
	v, p, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("VID:PID %q should look like <1d50:602b>", s)
	}
	vid, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad VID %q: %w", v, err)
	}
	pid, err := strconv.ParseUint(p, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad PID %q: %w", p, err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// Open opens the first device matching vp ("vvvv:pppp") and claims its
// default interface.
func Open(vp string) (_ *Conn, err error) {
	vid, pid, err := ParseVIDPID(vp)
	if err != nil {
		return nil, err
	}

	c := &Conn{ctx: gousb.NewContext()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.dev, err = c.ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", vp, err)
	}
	if c.dev == nil {
		return nil, fmt.Errorf("no device with VID:PID %s", vp)
	}
	c.dev.SetAutoDetach(true)

	c.intf, c.done, err = c.dev.DefaultInterface()
	if err != nil {
		return nil, fmt.Errorf("claim interface of %s: %w", c.dev, err)
	}
	if c.out, err = c.intf.OutEndpoint(outEndpoint); err != nil {
		return nil, fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	if c.in, err = c.intf.InEndpoint(inEndpoint); err != nil {
		return nil, fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	glog.V(1).Infof("fpgalink: opened %s", c.dev)
	return c, nil
}

// appendHeader appends the command header for a transfer of n bytes.
func appendHeader(b []byte, ch uint8, n int, read bool) []byte {
	cmd := ch &^ readFlag
	if read {
		cmd |= readFlag
	}
	b = append(b, cmd)
	return binary.BigEndian.AppendUint32(b, uint32(n))
}

// WriteChannel sends p to channel ch.
func (c *Conn) WriteChannel(ch uint8, p []byte) error {
	if ch&readFlag != 0 {
		return fmt.Errorf("channel %d out of range", ch)
	}
	buf := appendHeader(make([]byte, 0, headerSize+len(p)), ch, len(p), false)
	buf = append(buf, p...)
	return c.send(buf)
}

// ReadChannel reads exactly len(p) bytes from channel ch.
func (c *Conn) ReadChannel(ch uint8, p []byte) error {
	if ch&readFlag != 0 {
		return fmt.Errorf("channel %d out of range", ch)
	}
	if err := c.send(appendHeader(nil, ch, len(p), true)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for got := 0; got < len(p); {
		n, err := c.in.ReadContext(ctx, p[got:])
		if err != nil {
			return fmt.Errorf("read channel %d: %w", ch, err)
		}
		if n == 0 {
			return errors.New("short read from IN endpoint")
		}
		got += n
	}
	return nil
}

func (c *Conn) send(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := c.out.WriteContext(ctx, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// Close releases whatever Open acquired: the interface, the device and the
// USB context. Closing a partially opened or already closed Conn is safe.
func (c *Conn) Close() error {
	if c.done != nil {
		c.done()
		c.done = nil
	}
	var err error
	if c.dev != nil {
		err = c.dev.Close()
		c.dev = nil
	}
	if c.ctx != nil {
		if ctxErr := c.ctx.Close(); ctxErr != nil && err == nil {
			err = ctxErr
		}
		c.ctx = nil
	}
	return err
}
