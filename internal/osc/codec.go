package osc

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	tags, values := m.args()
	if expected, got := len(tags), len(values); expected != got {
		return nil, errors.Errorf("%s: expected %d arguments, got %d", m.Address(), expected, got)
	}

	var buf bytes.Buffer
	if err := writeString(&buf, m.Address()); err != nil {
		return nil, errors.Wrap(err, "writing address")
	}
	if err := writeString(&buf, ","+tags); err != nil {
		return nil, errors.Wrap(err, "writing type tags")
	}
	for i, tag := range []byte(tags) {
		if err := writeArg(&buf, tag, values[i]); err != nil {
			return nil, errors.Wrapf(err, "%s: argument %d", m.Address(), i)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses b into one of the known messages. It reports false for
// anything that is not exactly one of the declared shapes.
func Decode(b []byte) (Message, bool) {
	p, ok := parsePacket(b)
	if !ok {
		return nil, false
	}
	return p.message()
}

type packet struct {
	address string
	tags    string
	values  []interface{}
}

func (p packet) message() (Message, bool) {
	v := p.values
	switch p.address {
	case AddrFlashOn:
		if p.tags == "if" {
			return FlashOn{Index: v[0].(int32), Intensity: v[1].(float32)}, true
		}
	case AddrFlashOff:
		if p.tags == "i" {
			return FlashOff{Index: v[0].(int32)}, true
		}
	case AddrAudioPlay:
		return p.audioPlay()
	case AddrAudioStop:
		if p.tags == "i" {
			return AudioStop{Index: v[0].(int32)}, true
		}
	case AddrMicRecord:
		if p.tags == "if" {
			return MicRecord{Index: v[0].(int32), MaxDurationSec: v[1].(float32)}, true
		}
	case AddrSync:
		if p.tags == "t" {
			return Sync{Timetag: v[0].(Timetag)}, true
		}
	case AddrSetSlot:
		if p.tags == "i" {
			return SetSlot{Slot: v[0].(int32)}, true
		}
	case AddrHello:
		switch p.tags {
		case "si":
			return Hello{Hostname: v[0].(string), Slot: v[1].(int32)}, true
		case "sis":
			return Hello{Hostname: v[0].(string), Slot: v[1].(int32), UDID: v[2].(string)}, true
		}
	case AddrAck:
		if p.tags == "i" {
			return Ack{Slot: v[0].(int32)}, true
		}
	case AddrTap:
		if p.tags == "" {
			return Tap{}, true
		}
	case AddrDiscover:
		if p.tags == "i" {
			return Discover{Slot: v[0].(int32)}, true
		}
	}
	return nil, false
}

// audioPlay accepts the legacy three argument form and both encodings of the
// start offset.
func (p packet) audioPlay() (Message, bool) {
	if !strings.HasPrefix(p.tags, "isf") {
		return nil, false
	}
	m := AudioPlay{
		Index: p.values[0].(int32),
		File:  p.values[1].(string),
		Gain:  p.values[2].(float32),
	}
	switch p.tags[3:] {
	case "":
	case "h":
		m.StartOffsetMs = p.values[3].(int64)
		m.HasStartOffset = true
	case "f":
		m.StartOffsetMs = int64(math.Round(float64(p.values[3].(float32))))
		m.HasStartOffset = true
	default:
		return nil, false
	}
	return m, true
}

func parsePacket(b []byte) (packet, bool) {
	var p packet
	addr, rest, ok := readString(b)
	if !ok || !strings.HasPrefix(addr, "/") {
		return p, false
	}
	tags, rest, ok := readString(rest)
	if !ok || !strings.HasPrefix(tags, ",") {
		return p, false
	}
	p.address = addr
	p.tags = tags[1:]
	p.values = make([]interface{}, 0, len(p.tags))
	for _, tag := range []byte(p.tags) {
		var v interface{}
		v, rest, ok = readArg(rest, tag)
		if !ok {
			return p, false
		}
		p.values = append(p.values, v)
	}
	if len(rest) != 0 {
		return p, false
	}
	return p, true
}

func writeString(buf *bytes.Buffer, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return errors.Errorf("string %q contains a NUL byte", s)
	}
	buf.WriteString(s)
	buf.Write(make([]byte, padding(len(s))))
	return nil
}

func writeArg(buf *bytes.Buffer, tag byte, v interface{}) error {
	var ok bool
	switch tag {
	case 'i':
		var n int32
		if n, ok = v.(int32); ok {
			_ = binary.Write(buf, binary.BigEndian, n)
		}
	case 'f':
		var f float32
		if f, ok = v.(float32); ok {
			_ = binary.Write(buf, binary.BigEndian, math.Float32bits(f))
		}
	case 'h':
		var n int64
		if n, ok = v.(int64); ok {
			_ = binary.Write(buf, binary.BigEndian, n)
		}
	case 't':
		var tt Timetag
		if tt, ok = v.(Timetag); ok {
			_ = binary.Write(buf, binary.BigEndian, uint64(tt))
		}
	case 's':
		var s string
		if s, ok = v.(string); ok {
			return writeString(buf, s)
		}
	default:
		return errors.Errorf("unsupported type tag %q", tag)
	}
	if !ok {
		return errors.Errorf("type tag %q does not match value of type %T", tag, v)
	}
	return nil
}

// readString reads a NUL terminated string padded to a 4 byte boundary.
func readString(b []byte) (string, []byte, bool) {
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		return "", nil, false
	}
	size := end + padding(end)
	if size > len(b) {
		return "", nil, false
	}
	for _, c := range b[end:size] {
		if c != 0 {
			return "", nil, false
		}
	}
	return string(b[:end]), b[size:], true
}

func readArg(b []byte, tag byte) (interface{}, []byte, bool) {
	switch tag {
	case 'i':
		if len(b) < 4 {
			return nil, nil, false
		}
		return int32(binary.BigEndian.Uint32(b)), b[4:], true
	case 'f':
		if len(b) < 4 {
			return nil, nil, false
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), b[4:], true
	case 'h':
		if len(b) < 8 {
			return nil, nil, false
		}
		return int64(binary.BigEndian.Uint64(b)), b[8:], true
	case 't':
		if len(b) < 8 {
			return nil, nil, false
		}
		return Timetag(binary.BigEndian.Uint64(b)), b[8:], true
	case 's':
		return readString(b)
	}
	return nil, nil, false
}

// padding returns the number of NUL bytes that terminate and align a string
// of length n. There is always at least one.
func padding(n int) int {
	return 4 - n%4
}
