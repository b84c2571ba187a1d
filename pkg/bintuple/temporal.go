package bintuple

import (
	"encoding/binary"
	"fmt"
	"time"
)

// EncodeDate packs (year, month, day) sort-order-preserving into 3
// bytes as (year<<9)|(month<<5)|day, per spec §4.2.
func EncodeDate(year int, month, day int) [3]byte {
	packed := uint32(year)<<9 | uint32(month)<<5 | uint32(day)
	var out [3]byte
	out[0] = byte(packed >> 16)
	out[1] = byte(packed >> 8)
	out[2] = byte(packed)
	return out
}

// DecodeDate reverses EncodeDate.
func DecodeDate(b [3]byte) (year, month, day int) {
	packed := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	day = int(packed & 0x1F)
	month = int((packed >> 5) & 0xF)
	year = int(packed >> 9)
	return
}

// EncodeTime packs (hour, minute, second) into 3 bytes as
// (hour<<12)|(minute<<6)|second, followed by a precision-dependent
// trailing fractional-second field (big-endian, so the whole encoding
// stays lexicographically ordered), per spec §4.2.
func EncodeTime(hour, minute, second, nanos, precision int) []byte {
	packed := uint32(hour)<<12 | uint32(minute)<<6 | uint32(second)
	head := []byte{byte(packed >> 16), byte(packed >> 8), byte(packed)}
	frac := encodeFraction(nanos, precision)
	return append(head, frac...)
}

// DecodeTime reverses EncodeTime.
func DecodeTime(b []byte, precision int) (hour, minute, second, nanos int, err error) {
	if len(b) < 3 {
		return 0, 0, 0, 0, fmt.Errorf("bintuple: time encoding too short")
	}
	packed := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	second = int(packed & 0x3F)
	minute = int((packed >> 6) & 0x3F)
	hour = int(packed >> 12)
	nanos = decodeFraction(b[3:], precision)
	return
}

func encodeFraction(nanos, precision int) []byte {
	switch {
	case precision <= 0:
		return nil
	case precision <= 3:
		millis := uint16(nanos / 1_000_000)
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, millis)
		return b
	case precision <= 6:
		micros := uint32(nanos / 1_000)
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, micros)
		return b[1:] // narrow to 3 bytes, big-endian tail
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(nanos))
		return b
	}
}

func decodeFraction(b []byte, precision int) int {
	switch {
	case precision <= 0:
		return 0
	case precision <= 3:
		if len(b) < 2 {
			return 0
		}
		return int(binary.BigEndian.Uint16(b[:2])) * 1_000_000
	case precision <= 6:
		if len(b) < 3 {
			return 0
		}
		padded := append([]byte{0}, b[:3]...)
		return int(binary.BigEndian.Uint32(padded)) * 1_000
	default:
		if len(b) < 4 {
			return 0
		}
		return int(binary.BigEndian.Uint32(b[:4]))
	}
}

// EncodeTimestamp encodes epoch seconds as 8 bytes big-endian (shifted
// so negative epochs stay order-preserving) followed by an optional
// 4-byte normalized-nanos field, per spec §4.2.
func EncodeTimestamp(t time.Time, precision int) []byte {
	secs := t.Unix()
	shifted := uint64(secs) ^ (uint64(1) << 63) // flip sign bit: orders signed seconds as unsigned
	out := make([]byte, 8, 12)
	binary.BigEndian.PutUint64(out, shifted)
	if precision > 0 {
		nanoBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(nanoBuf, uint32(t.Nanosecond()))
		out = append(out, nanoBuf...)
	}
	return out
}

// DecodeTimestamp reverses EncodeTimestamp.
func DecodeTimestamp(b []byte, precision int) (time.Time, error) {
	if len(b) < 8 {
		return time.Time{}, fmt.Errorf("bintuple: timestamp encoding too short")
	}
	shifted := binary.BigEndian.Uint64(b[:8])
	secs := int64(shifted ^ (uint64(1) << 63))
	nanos := 0
	if precision > 0 {
		if len(b) < 12 {
			return time.Time{}, fmt.Errorf("bintuple: timestamp fractional field missing")
		}
		nanos = int(binary.BigEndian.Uint32(b[8:12]))
	}
	return time.Unix(secs, int64(nanos)).UTC(), nil
}
