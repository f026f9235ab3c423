package osc

import "time"

// secondsFrom1900To1970 is the offset between the NTP and Unix epochs.
const secondsFrom1900To1970 = 2208988800

// Timetag is an NTP timestamp: seconds since 1900 in the high 32 bits and a
// binary fraction of a second in the low 32 bits.
type Timetag uint64

// NewTimetag converts t to a Timetag.
func NewTimetag(t time.Time) Timetag {
	secs := uint64(t.Unix() + secondsFrom1900To1970)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return Timetag(secs<<32 | frac)
}

// Time converts the timetag back to wall clock time. Sub-nanosecond
// precision is lost.
func (tt Timetag) Time() time.Time {
	secs := int64(uint64(tt)>>32) - secondsFrom1900To1970
	nanos := ((uint64(tt) & 0xFFFFFFFF) * uint64(time.Second)) >> 32
	return time.Unix(secs, int64(nanos))
}
