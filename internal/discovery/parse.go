package discovery

import (
	"bytes"
	"encoding/binary"
	"math"
)

type inboundKind int

const (
	inboundHello inboundKind = iota + 1
	inboundAck
	inboundTap
)

type inbound struct {
	kind     inboundKind
	hostname string
	slot     int
	udid     string
}

// parseInbound recognises /hello, /ack and /tap in an untrusted datagram.
// It is deliberately forgiving: missing padding at the end of the packet,
// any numeric type for the slot and extra trailing arguments are accepted.
func parseInbound(b []byte) (inbound, bool) {
	r := &reader{b: b}
	var in inbound

	switch r.str() {
	case "/hello":
		in.kind = inboundHello
	case "/ack":
		in.kind = inboundAck
	case "/tap":
		return inbound{kind: inboundTap}, true
	default:
		return in, false
	}

	if r.done() || r.b[r.pos] != ',' {
		return in, false
	}
	tags := r.str()[1:]

	var (
		haveSlot bool
		nstr     int
	)
	for _, tag := range []byte(tags) {
		switch tag {
		case 's':
			s, ok := r.arg(tag)
			if !ok {
				return in, haveSlot
			}
			if nstr == 0 {
				in.hostname = s.(string)
			} else if nstr == 1 {
				in.udid = s.(string)
			}
			nstr++
		case 'i', 'h', 'f', 'd':
			v, ok := r.arg(tag)
			if !ok {
				return in, haveSlot
			}
			if !haveSlot {
				in.slot, haveSlot = v.(int), true
			}
		default:
			if _, ok := r.arg(tag); !ok {
				// Unknown tag: keep what was understood so far.
				return in, haveSlot
			}
		}
	}
	return in, haveSlot
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) done() bool { return r.pos >= len(r.b) }

// str reads a NUL terminated string and skips its padding. An unterminated
// string runs to the end of the packet.
func (r *reader) str() string {
	if r.done() {
		return ""
	}
	rest := r.b[r.pos:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		r.pos = len(r.b)
		return string(rest)
	}
	s := string(rest[:end])
	r.pos += end + 4 - end%4
	if r.pos > len(r.b) {
		r.pos = len(r.b)
	}
	return s
}

func (r *reader) next(n int) ([]byte, bool) {
	if r.pos+n > len(r.b) {
		return nil, false
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

// arg reads one argument. Numbers come back as int, strings as string.
func (r *reader) arg(tag byte) (interface{}, bool) {
	switch tag {
	case 'i':
		b, ok := r.next(4)
		if !ok {
			return nil, false
		}
		return int(int32(binary.BigEndian.Uint32(b))), true
	case 'f':
		b, ok := r.next(4)
		if !ok {
			return nil, false
		}
		return int(math.Float32frombits(binary.BigEndian.Uint32(b))), true
	case 'h':
		b, ok := r.next(8)
		if !ok {
			return nil, false
		}
		return int(int64(binary.BigEndian.Uint64(b))), true
	case 'd':
		b, ok := r.next(8)
		if !ok {
			return nil, false
		}
		return int(math.Float64frombits(binary.BigEndian.Uint64(b))), true
	case 't':
		_, ok := r.next(8)
		return nil, ok
	case 's':
		if r.done() {
			return nil, false
		}
		return r.str(), true
	case 'b':
		b, ok := r.next(4)
		if !ok {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(b))
		if n < 0 || n > len(r.b) {
			return nil, false
		}
		_, ok = r.next(n + (4-n%4)%4)
		return nil, ok
	case 'T', 'F', 'N', 'I':
		return nil, true
	}
	return nil, false
}
