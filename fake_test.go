package spicard

import (
	"fmt"
)

// fakeBridge records everything written to it. Each data byte is answered
// by respond (0xFF if nil) and queued unless SUPPRESS is set.
type fakeBridge struct {
	respond func(out byte) byte

	sent       []byte
	configs    []Config
	config     Config
	queue      []byte
	dataWrites int // successful data channel writes

	failWrite error // fails writes on every channel
	// failData fails data channel writes once dataWrites reaches
	// failDataAfter. Configuration writes keep working.
	failData      error
	failDataAfter int
}

// breakData makes every data channel write from now on fail with err.
func (f *fakeBridge) breakData(err error) {
	f.failData = err
	f.failDataAfter = f.dataWrites
}

func (f *fakeBridge) WriteChannel(ch uint8, p []byte) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	switch ch {
	case ChannelData:
		if f.failData != nil && f.dataWrites >= f.failDataAfter {
			return f.failData
		}
		f.dataWrites++
		for _, out := range p {
			f.sent = append(f.sent, out)
			in := byte(0xFF)
			if f.respond != nil {
				in = f.respond(out)
			}
			if !f.config.Suppress() {
				f.queue = append(f.queue, in)
			}
		}
	case ChannelConfig:
		for _, v := range p {
			f.config = Config(v)
			f.configs = append(f.configs, f.config)
		}
	default:
		return fmt.Errorf("bad channel %d", ch)
	}
	return nil
}

func (f *fakeBridge) ReadChannel(ch uint8, p []byte) error {
	if ch != ChannelData || len(p) > len(f.queue) {
		return fmt.Errorf("bad read of %d bytes on channel %d (%d queued)", len(p), ch, len(f.queue))
	}
	n := copy(p, f.queue)
	f.queue = f.queue[n:]
	return nil
}

// selects counts chip-select assertions in the recorded configuration writes.
func (f *fakeBridge) selects() int {
	n := 0
	var prev Config
	for _, c := range f.configs {
		if c.Enable() && !prev.Enable() {
			n++
		}
		prev = c
	}
	return n
}

// cardScript is a minimal SD card: after each 6-byte command frame it queues
// one gap byte followed by whatever reply returns. While stream is set, the
// queue is refilled with stream() whenever it runs dry.
type cardScript struct {
	reply  func(cmd byte, arg uint32) []byte
	stream func() []byte

	frame []byte
	out   []byte
	cmds  []byte
	args  []uint32
}

func (s *cardScript) respond(out byte) byte {
	in := byte(0xFF)
	if len(s.out) > 0 {
		in, s.out = s.out[0], s.out[1:]
	}
	switch {
	case len(s.frame) > 0:
		s.frame = append(s.frame, out)
		if len(s.frame) == 6 {
			cmd := s.frame[0] & 0x3F
			arg := uint32(s.frame[1])<<24 | uint32(s.frame[2])<<16 | uint32(s.frame[3])<<8 | uint32(s.frame[4])
			s.cmds = append(s.cmds, cmd)
			s.args = append(s.args, arg)
			s.frame = nil
			s.out = append([]byte{0xFF}, s.reply(cmd, arg)...)
		}
	case out&0xC0 == 0x40:
		s.frame = []byte{out}
		s.out = nil
		s.stream = nil
	case s.stream != nil && len(s.out) == 0:
		s.out = s.stream()
	}
	return in
}

func (s *cardScript) count(cmd byte) int {
	n := 0
	for _, c := range s.cmds {
		if c == cmd {
			n++
		}
	}
	return n
}

// newScriptedCard returns a Card wired to a cardScript through a fakeBridge.
func newScriptedCard(reply func(cmd byte, arg uint32) []byte, opts ...Option) (*Card, *cardScript, *fakeBridge) {
	s := &cardScript{reply: reply}
	f := &fakeBridge{respond: s.respond}
	return NewCard(f, opts...), s, f
}

// readyCard answers the initialization sequence with an immediately ready
// card and delegates everything else to other.
func readyCard(other func(cmd byte, arg uint32) []byte) func(cmd byte, arg uint32) []byte {
	return func(cmd byte, arg uint32) []byte {
		switch cmd {
		case cmdGoIdleState, cmdAppCmd:
			return []byte{byte(R1InIdleState)}
		case cmdAppSendOpCond, cmdSendOpCond:
			return []byte{byte(R1Success)}
		}
		if other == nil {
			return []byte{byte(R1IllegalCommand)}
		}
		return other(cmd, arg)
	}
}

// dataPacket returns a gap byte, the data token, data and two CRC bytes.
func dataPacket(data []byte) []byte {
	p := []byte{0xFF, 0xFE}
	p = append(p, data...)
	return append(p, 0xFF, 0xFF)
}
