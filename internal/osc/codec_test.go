package osc

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	messages := []Message{
		FlashOn{Index: 3, Intensity: 0.75},
		FlashOn{Index: 0, Intensity: 0},
		FlashOff{Index: 42},
		AudioPlay{Index: 7, File: "short10.mp3", Gain: 1},
		AudioPlay{Index: 7, File: "long", Gain: 0.5, StartOffsetMs: 1500, HasStartOffset: true},
		AudioPlay{Index: 1, File: "", Gain: 0.25, StartOffsetMs: 0, HasStartOffset: true},
		AudioStop{Index: 9},
		MicRecord{Index: 2, MaxDurationSec: 12.5},
		Sync{Timetag: NewTimetag(time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC))},
		SetSlot{Slot: 3},
		Hello{Hostname: "console", Slot: 0},
		Hello{Hostname: "phone-12", Slot: 5, UDID: "8F2C-11"},
		Ack{Slot: 12},
		Tap{},
		Discover{Slot: 0},
		Discover{Slot: -1},
	}
	for _, m := range messages {
		b, err := Encode(m)
		if err != nil {
			t.Fatalf("%#v: encode: %v", m, err)
		}
		if len(b)%4 != 0 {
			t.Errorf("%#v: packet length %d is not 32-bit aligned", m, len(b))
		}
		got, ok := Decode(b)
		if !ok {
			t.Fatalf("%#v: no match for % x", m, b)
		}
		if !reflect.DeepEqual(got, m) {
			t.Errorf("round trip: expected %#v, got %#v", m, got)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	b, err := Encode(FlashOn{Index: 1, Intensity: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("/flash/on\x00\x00\x00,if\x00")
	want = binary.BigEndian.AppendUint32(want, 1)
	want = binary.BigEndian.AppendUint32(want, math.Float32bits(0.5))
	if !bytes.Equal(b, want) {
		t.Errorf("expected % x, got % x", want, b)
	}

	b, err = Encode(Tap{})
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte("/tap\x00\x00\x00\x00,\x00\x00\x00"); !bytes.Equal(b, want) {
		t.Errorf("expected % x, got % x", want, b)
	}
}

func TestDecodeLegacyFloatOffset(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("/audio/play\x00,isff\x00\x00\x00")
	_ = binary.Write(&buf, binary.BigEndian, int32(4))
	buf.WriteString("a.mp3\x00\x00\x00")
	_ = binary.Write(&buf, binary.BigEndian, math.Float32bits(1))
	_ = binary.Write(&buf, binary.BigEndian, math.Float32bits(250))

	got, ok := Decode(buf.Bytes())
	if !ok {
		t.Fatal("expected a match")
	}
	want := AudioPlay{Index: 4, File: "a.mp3", Gain: 1, StartOffsetMs: 250, HasStartOffset: true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
}

func TestDecodeNoMatch(t *testing.T) {
	valid, _ := Encode(FlashOff{Index: 1})
	cases := map[string][]byte{
		"empty":          nil,
		"no terminator":  []byte("/flash/off"),
		"no slash":       []byte("flash\x00\x00\x00,i\x00\x00\x00\x00\x00\x01"),
		"no tags":        []byte("/flash/off\x00\x00"),
		"wrong tags":     []byte("/flash/off\x00\x00,f\x00\x00\x00\x00\x00\x00"),
		"unknown addr":   []byte("/flash/dim\x00\x00,i\x00\x00\x00\x00\x00\x01"),
		"truncated":      valid[:len(valid)-1],
		"trailing bytes": append(append([]byte{}, valid...), 0, 0, 0, 0),
		"bad padding":    []byte("/tap\x00\x01\x00\x00,\x00\x00\x00"),
		"unknown tag":    []byte("/flash/off\x00\x00,x\x00\x00\x00\x00\x00\x01"),
		"hello too long": []byte("/hello\x00\x00,siss\x00\x00\x00a\x00\x00\x00\x00\x00\x00\x01b\x00\x00\x00c\x00\x00\x00"),
	}
	for name, b := range cases {
		if m, ok := Decode(b); ok {
			t.Errorf("%s: expected no match, got %#v", name, m)
		}
	}
}

func TestEncodeRejectsNUL(t *testing.T) {
	if _, err := Encode(AudioPlay{Index: 1, File: "a\x00b"}); err == nil {
		t.Error("expected an error for a NUL in a string argument")
	}
	if _, err := Encode(nil); err == nil {
		t.Error("expected an error for a nil message")
	}
}

func TestTimetag(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 30, 15, 250_000_000, time.UTC)
	got := NewTimetag(now).Time()
	if d := got.Sub(now); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("expected %v, got %v", now, got)
	}
	if secs := uint64(NewTimetag(time.Unix(0, 0))) >> 32; secs != secondsFrom1900To1970 {
		t.Errorf("unix epoch: expected %d seconds, got %d", secondsFrom1900To1970, secs)
	}
}
