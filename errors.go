package spicard

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned by stream reads outside BeginRead*/EndRead.
	ErrNoSession = errors.New("no read session active")

	// ErrSessionActive is returned when a read session is begun while
	// another one is still open.
	ErrSessionActive = errors.New("read session already active")
)

// TransportError is a failed bridge channel operation. It aborts whatever
// protocol step was running.
type TransportError struct {
	Op      string // "read" or "write"
	Channel uint8
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on channel %d: %v", e.Op, e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Phase names the protocol step whose retry budget ran out.
type Phase int

const (
	PhaseOpCond     Phase = iota // ACMD41/CMD1 never reported ready
	PhaseReadCmd                 // CMD17/CMD18 never accepted
	PhaseDataToken               // data-start token never arrived
	PhaseStopCmd                 // CMD12 never accepted
	PhaseRegisterCmd             // CMD9 data token never arrived
)

func (p Phase) String() string {
	switch p {
	case PhaseOpCond:
		return "card initialization"
	case PhaseReadCmd:
		return "read block command"
	case PhaseDataToken:
		return "data start token"
	case PhaseStopCmd:
		return "stop transmission"
	case PhaseRegisterCmd:
		return "register read"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// TimeoutError reports an exhausted retry budget along with the last token
// seen on the bus.
type TimeoutError struct {
	Phase    Phase
	Command  byte
	LBA      uint32 // only meaningful for PhaseReadCmd and PhaseDataToken
	Token    R1
	Attempts int
}

func (e *TimeoutError) Error() string {
	switch e.Phase {
	case PhaseReadCmd, PhaseDataToken:
		return fmt.Sprintf("%s timed out after %d attempts (CMD%d lba=0x%08X token=0x%02X)",
			e.Phase, e.Attempts, e.Command, e.LBA, byte(e.Token))
	default:
		return fmt.Sprintf("%s timed out after %d attempts (CMD%d token=0x%02X)",
			e.Phase, e.Attempts, e.Command, byte(e.Token))
	}
}

// NotIdleError means GO_IDLE_STATE did not answer with exactly IN_IDLE_STATE.
type NotIdleError struct {
	Token R1
}

func (e *NotIdleError) Error() string {
	return fmt.Sprintf("card not idle after reset (token=%v)", e.Token)
}

// CommandError is a single-shot command that the card rejected.
type CommandError struct {
	Command byte
	Token   R1
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("CMD%d rejected (token=%v)", e.Command, e.Token)
}

// FileError is a source file that could not be opened or read.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
