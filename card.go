package spicard

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// SD commands used in SPI mode [SDPLS|7.3.1.3 Detailed Command Description].
const (
	cmdGoIdleState      = 0
	cmdSendOpCond       = 1
	cmdSendCSD          = 9
	cmdStopTransmission = 12
	cmdReadSingleBlock  = 17
	cmdReadMultiBlock   = 18
	cmdWriteSingleBlock = 24 // reserved for block writes
	cmdWriteMultiBlock  = 25 // reserved for block writes
	cmdAppSendOpCond    = 41 // ACMD41, must follow cmdAppCmd
	cmdAppCmd           = 55
)

// Data tokens [SDPLS|7.3.3 Control Tokens]. Reads of every kind share 0xFE.
const (
	tokenReadSingle    = 0xFE
	tokenReadMultiple  = 0xFE
	tokenReadRegister  = 0xFE
	tokenWriteSingle   = 0xFE // reserved for block writes
	tokenWriteMultiple = 0xFC // reserved for block writes
	tokenWriteFinish   = 0xFD // reserved for block writes
)

const (
	cmdFrameBit = 0x40
	// Correct CRC7 for CMD0 with argument 0. The card ignores CRC on every
	// later command unless CRC checking is turned on, so it is always sent.
	cmdCRC = 0x95
)

// Retry budgets. Every bounded wait uses the same 16-bit count.
const (
	DefaultRetries = 0xFFFF

	waitRetries   = DefaultRetries // WaitFor/WaitForNot polls
	opCondRetries = DefaultRetries // ACMD41 + CMD1 attempts
	readRetries   = DefaultRetries // CMD17/CMD18 attempts
	stopRetries   = DefaultRetries // CMD12 attempts
)

// R1 is the one-byte command response [SDPLS|7.3.2.1 Format R1].
//
//	Bits| Meaning
//	----+----------------------
//	7   | always 0 (0xFF = no response)
//	6   | parameter error
//	5   | address error
//	4   | erase sequence error
//	3   | command CRC error
//	2   | illegal command
//	1   | erase reset
//	0   | in idle state
type R1 byte

const (
	R1Success            R1 = 0x00
	R1InIdleState        R1 = 1 << 0
	R1EraseReset         R1 = 1 << 1
	R1IllegalCommand     R1 = 1 << 2
	R1CommandCRCError    R1 = 1 << 3
	R1EraseSequenceError R1 = 1 << 4
	R1AddressError       R1 = 1 << 5
	R1ParameterError     R1 = 1 << 6
)

func (r R1) NoResponse() bool         { return r&0x80 != 0 }
func (r R1) Idle() bool               { return r&R1InIdleState != 0 }
func (r R1) EraseReset() bool         { return r&R1EraseReset != 0 }
func (r R1) IllegalCommand() bool     { return r&R1IllegalCommand != 0 }
func (r R1) CRCError() bool           { return r&R1CommandCRCError != 0 }
func (r R1) EraseSequenceError() bool { return r&R1EraseSequenceError != 0 }
func (r R1) AddressError() bool       { return r&R1AddressError != 0 }
func (r R1) ParameterError() bool     { return r&R1ParameterError != 0 }

func (r R1) String() string {
	b := fmt.Sprintf("%08b", byte(r))
	if r.NoResponse() {
		return b + " NORESP"
	}
	s := []string{}
	if r.ParameterError() {
		s = append(s, "PARAM")
	}
	if r.AddressError() {
		s = append(s, "ADDR")
	}
	if r.EraseSequenceError() {
		s = append(s, "ERASE_SEQ")
	}
	if r.CRCError() {
		s = append(s, "CRC")
	}
	if r.IllegalCommand() {
		s = append(s, "ILLEGAL")
	}
	if r.EraseReset() {
		s = append(s, "ERASE_RESET")
	}
	if r.Idle() {
		s = append(s, "IDLE")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// Card is an SD card in SPI mode behind a bridge. A Card owns its Bus; at
// most one read session is open at a time.
type Card struct {
	bus     *Bus
	retries retryBudget
	session session
}

type retryBudget struct {
	wait, opCond, read, stop int
}

// Option configures a Card.
type Option func(*Card)

// WithRetries replaces every retry budget with n. The defaults match the
// card's worst-case timing; a smaller n only makes failures surface sooner.
func WithRetries(n int) Option {
	n = max(n, 1)
	return func(c *Card) {
		c.retries = retryBudget{wait: n, opCond: n, read: n, stop: n}
	}
}

// NewCard returns a Card talking through t. The configuration register
// starts cleared: chip-select deasserted, slow clock.
func NewCard(t Transport, opts ...Option) *Card {
	c := &Card{
		bus: NewBus(t, 0),
		retries: retryBudget{
			wait:   waitRetries,
			opCond: opCondRetries,
			read:   readRetries,
			stop:   stopRetries,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bus returns the card's byte engine.
func (c *Card) Bus() *Bus { return c.bus }

// SendCommand frames cmd with arg and returns the R1 response. The response
// is not interpreted; 0xFF means the card never answered.
//
//	0xFF | 0x40|cmd | arg[31:24] | arg[23:16] | arg[15:8] | arg[7:0] | 0x95 | 0xFF
func (c *Card) SendCommand(cmd byte, arg uint32) (R1, error) {
	frame := [...]byte{
		fillByte, // bus settle
		cmd | cmdFrameBit,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		cmdCRC,
		fillByte, // the card is still busy with the frame
	}
	for _, b := range frame {
		if _, err := c.bus.Exchange(b); err != nil {
			return R1(fillByte), err
		}
	}
	r, _, err := c.bus.WaitForNot(fillByte, c.retries.wait)
	if glog.V(2) {
		glog.Infof("CMD%d arg=0x%08X -> %v", cmd, arg, R1(r))
	}
	return R1(r), err
}

// Init takes a powered card into SPI mode and waits until it leaves the idle
// state. It leaves chip-select deasserted and the clock slow on every path.
//
//	PoweredOff -> Stabilizing -> Resetting -> NegotiatingOpCond -> Ready
func (c *Card) Init() (err error) {
	if c.session.active {
		return ErrSessionActive
	}
	if err = c.bus.Deselect(); err != nil {
		return err
	}
	if err = c.bus.SetTurbo(false); err != nil {
		return err
	}

	// 256 clocks with MOSI low while power settles, then 80 clocks with MOSI
	// high, chip-select deasserted [SDPLS|6.4.1.1 Power Up Time of Card].
	glog.V(1).Info("sd: stabilizing")
	if err = c.bus.SendClocks(32, 0x00); err != nil {
		return err
	}
	if err = c.bus.SendClocks(10, fillByte); err != nil {
		return err
	}

	if err = c.bus.Select(); err != nil {
		return err
	}
	defer func() {
		if cleanupErr := c.release(); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	glog.V(1).Info("sd: resetting")
	r, err := c.SendCommand(cmdGoIdleState, 0)
	if err != nil {
		return err
	}
	if r != R1InIdleState {
		return &NotIdleError{Token: r}
	}

	// ACMD41 seeds the loop and counts as the first attempt; its response is
	// only inspected by the loop condition, after which CMD1 is retried.
	glog.V(1).Info("sd: negotiating operating conditions")
	if _, err = c.SendCommand(cmdAppCmd, 0); err != nil {
		return err
	}
	if r, err = c.SendCommand(cmdAppSendOpCond, 0); err != nil {
		return err
	}
	attempts := 1
	for r != R1Success && attempts < c.retries.opCond {
		if r, err = c.SendCommand(cmdSendOpCond, 0); err != nil {
			return err
		}
		attempts++
	}
	if r != R1Success {
		return &TimeoutError{
			Phase:    PhaseOpCond,
			Command:  cmdSendOpCond,
			Token:    r,
			Attempts: attempts,
		}
	}
	glog.V(1).Infof("sd: ready after %d attempts", attempts)
	return nil
}

// SetHighSpeed switches between the high-speed clock and the initialization
// clock. Init always leaves the clock slow.
func (c *Card) SetHighSpeed(on bool) error {
	return c.bus.SetTurbo(on)
}

// release flushes two clocks and deasserts chip-select. Chip-select is
// deasserted even when the flush fails.
func (c *Card) release() error {
	flushErr := c.bus.SendClocks(2, fillByte)
	if err := c.bus.Deselect(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}
