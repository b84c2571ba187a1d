package binrow

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/cuemby/tablemesh/pkg/bintuple"
	"github.com/cuemby/tablemesh/pkg/kverrors"
	"github.com/cuemby/tablemesh/pkg/schema"
)

// Header is the fixed prefix of a Row.
type Header struct {
	SchemaVersion uint16
	Flags         uint8
	KeyHash       uint32
}

const headerSize = 2 + 1 + 4

// FlagKeyOnly marks a row whose schema has no value columns (spec
// invariant: "a row with no value columns has schema-version zeroed").
const FlagKeyOnly uint8 = 1 << 0

// Row is a fully assembled binary row: header plus key and value
// chunks. Each chunk is the self-contained encoding described in
// spec §3 ("Binary Row").
type Row struct {
	Header    Header
	KeyChunk  []byte
	ValueChunk []byte
}

// Bytes concatenates the header and both chunks into the on-wire
// representation used as the record value in pkg/storage.
func (r *Row) Bytes() []byte {
	out := make([]byte, 0, headerSize+len(r.KeyChunk)+len(r.ValueChunk))
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], r.Header.SchemaVersion)
	hdr[2] = r.Header.Flags
	binary.BigEndian.PutUint32(hdr[3:7], r.Header.KeyHash)
	out = append(out, hdr[:]...)
	out = append(out, r.KeyChunk...)
	out = append(out, r.ValueChunk...)
	return out
}

// Parse reconstructs a Row from Bytes' output, given the chunk lengths
// recorded in each chunk's own length prefix.
func Parse(b []byte) (*Row, error) {
	if len(b) < headerSize {
		return nil, kverrors.New(kverrors.Assembly, "row shorter than header")
	}
	r := &Row{
		Header: Header{
			SchemaVersion: binary.BigEndian.Uint16(b[0:2]),
			Flags:         b[2],
			KeyHash:       binary.BigEndian.Uint32(b[3:7]),
		},
	}
	rest := b[headerSize:]
	keyLen, err := chunkLength(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < int(keyLen) {
		return nil, kverrors.New(kverrors.Assembly, "key chunk truncated")
	}
	r.KeyChunk = rest[:keyLen]
	rest = rest[keyLen:]
	if len(rest) > 0 {
		valLen, err := chunkLength(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < int(valLen) {
			return nil, kverrors.New(kverrors.Assembly, "value chunk truncated")
		}
		r.ValueChunk = rest[:valLen]
	}
	return r, nil
}

func chunkLength(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, kverrors.New(kverrors.Assembly, "chunk length prefix truncated")
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

// Assemble writes columns in schema order into key and value chunks
// and returns a completed Row. keyValues and valueValues must align
// 1:1 with schema.KeyColumns / schema.ValueColumns — reordering them
// relative to the schema is a precondition violation and produces
// undefined (not merely wrong) results, per spec §4.2.
func Assemble(s schema.Schema, keyValues, valueValues []any) (*Row, error) {
	if len(keyValues) != len(s.KeyColumns) {
		return nil, kverrors.New(kverrors.SchemaMismatch, "key value count does not match schema")
	}
	if len(valueValues) != len(s.ValueColumns) {
		return nil, kverrors.New(kverrors.SchemaMismatch, "value value count does not match schema")
	}

	keyChunk, err := encodeChunk(s.KeyColumns, keyValues)
	if err != nil {
		return nil, err
	}

	var valueChunk []byte
	var flags uint8
	if s.KeyOnly() {
		flags |= FlagKeyOnly
	} else {
		valueChunk, err = encodeChunk(s.ValueColumns, valueValues)
		if err != nil {
			return nil, err
		}
	}

	version := s.Version
	if s.KeyOnly() {
		version = 0
	}

	keyPayload := keyChunk[4:] // post-length-prefix, matches compute_colocation_hash's "payload bytes"
	return &Row{
		Header: Header{
			SchemaVersion: uint16(version),
			Flags:         flags,
			KeyHash:       uint32(bintuple.ColocationHash(keyPayload)),
		},
		KeyChunk:   keyChunk,
		ValueChunk: valueChunk,
	}, nil
}

// ComputeColocationHash hashes the row's key chunk payload bytes with
// the stable 32-bit hash and maps it to a partition id, per spec §4.2.
func ComputeColocationHash(r *Row, partitions int) (int32, uint16) {
	payload := r.KeyChunk[4:]
	h := bintuple.ColocationHash(payload)
	return h, bintuple.PartitionFor(h, partitions)
}

// ReadColumn decodes the value at index within the full column
// sequence (key columns followed by value columns).
func ReadColumn(r *Row, s schema.Schema, index int) (any, error) {
	all := s.AllColumns()
	if index < 0 || index >= len(all) {
		return nil, kverrors.New(kverrors.SchemaMismatch, "column index out of range")
	}
	if index < len(s.KeyColumns) {
		return decodeChunk(r.KeyChunk, s.KeyColumns, index)
	}
	if r.Header.Flags&FlagKeyOnly != 0 {
		return nil, kverrors.New(kverrors.SchemaMismatch, "row carries no value columns")
	}
	return decodeChunk(r.ValueChunk, s.ValueColumns, index-len(s.KeyColumns))
}

// --- chunk encode/decode ---

// chunk layout: [length u32][flags u8][null-map ceil(n/8) bytes]
// [offset-table: one entry per var column, width chosen narrowest of
// 1/2/4 bytes][fixed data, in column order][var data, in column order]
func encodeChunk(cols []schema.Column, values []any) ([]byte, error) {
	nullMap := make([]byte, (len(cols)+7)/8)
	fixed := make([]byte, 0, 64)
	vardata := make([]byte, 0, 64)
	varOffsets := make([]uint32, 0, len(cols))

	for i, col := range cols {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, kverrors.Wrap(kverrors.SchemaMismatch, fmt.Sprintf("column %q is not nullable", col.Name), nil)
			}
			nullMap[i/8] |= 1 << uint(i%8)
			if col.Type.Fixed() {
				fixed = append(fixed, make([]byte, col.Type.FixedSize(col))...)
			} else {
				varOffsets = append(varOffsets, uint32(len(vardata)))
			}
			continue
		}

		encoded, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		if col.Type.Fixed() {
			if len(encoded) != col.Type.FixedSize(col) {
				return nil, kverrors.New(kverrors.Assembly, fmt.Sprintf("column %q fixed-size mismatch", col.Name))
			}
			fixed = append(fixed, encoded...)
		} else {
			vardata = append(vardata, encoded...)
			varOffsets = append(varOffsets, uint32(len(vardata)))
		}
	}

	offsetWidth := offsetTableWidth(uint32(len(vardata)))
	offsetTable := make([]byte, len(varOffsets)*offsetWidth)
	for i, off := range varOffsets {
		putOffset(offsetTable[i*offsetWidth:], off, offsetWidth)
	}

	var flags uint8
	flags |= uint8(offsetWidth) << 1 // bits 1-3 record offset width (1,2,4)

	body := make([]byte, 0, 1+len(nullMap)+len(offsetTable)+len(fixed)+len(vardata))
	body = append(body, flags)
	body = append(body, nullMap...)
	body = append(body, offsetTable...)
	body = append(body, fixed...)
	body = append(body, vardata...)

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(out)))
	copy(out[4:], body)
	return out, nil
}

func offsetTableWidth(maxOffset uint32) int {
	switch {
	case maxOffset <= 0xFF:
		return 1
	case maxOffset <= 0xFFFF:
		return 2
	default:
		return 4
	}
}

func putOffset(b []byte, v uint32, width int) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	default:
		binary.BigEndian.PutUint32(b, v)
	}
}

func getOffset(b []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(b))
	default:
		return binary.BigEndian.Uint32(b)
	}
}

func decodeChunk(chunk []byte, cols []schema.Column, index int) (any, error) {
	if len(chunk) < 4 {
		return nil, kverrors.New(kverrors.Assembly, "chunk too short")
	}
	body := chunk[4:]
	if len(body) < 1 {
		return nil, kverrors.New(kverrors.Assembly, "chunk body missing flags")
	}
	flags := body[0]
	offsetWidth := int((flags >> 1) & 0x7)
	if offsetWidth == 0 {
		offsetWidth = 1
	}
	body = body[1:]

	nullMapLen := (len(cols) + 7) / 8
	if len(body) < nullMapLen {
		return nil, kverrors.New(kverrors.Assembly, "chunk null-map truncated")
	}
	nullMap := body[:nullMapLen]
	body = body[nullMapLen:]

	isNull := nullMap[index/8]&(1<<uint(index%8)) != 0

	// Count var columns before index to locate offset table / fixed slot.
	varCount := 0
	fixedOffset := 0
	varIndexBefore := 0
	for i, col := range cols {
		if i == index {
			break
		}
		if col.Type.Fixed() {
			fixedOffset += col.Type.FixedSize(col)
		} else {
			varIndexBefore++
		}
	}
	for _, col := range cols {
		if !col.Type.Fixed() {
			varCount++
		}
	}

	offsetTableLen := varCount * offsetWidth
	if len(body) < offsetTableLen {
		return nil, kverrors.New(kverrors.Assembly, "chunk offset table truncated")
	}
	offsetTable := body[:offsetTableLen]
	body = body[offsetTableLen:]

	col := cols[index]
	if col.Type.Fixed() {
		size := col.Type.FixedSize(col)
		if len(body) < fixedOffset+size {
			return nil, kverrors.New(kverrors.Assembly, "chunk fixed data truncated")
		}
		if isNull {
			return nil, nil
		}
		return decodeValue(col, body[fixedOffset:fixedOffset+size])
	}

	fixedTotal := 0
	for _, c := range cols {
		if c.Type.Fixed() {
			fixedTotal += c.Type.FixedSize(c)
		}
	}
	vardata := body[fixedTotal:]

	start := uint32(0)
	if varIndexBefore > 0 {
		start = getOffset(offsetTable[(varIndexBefore-1)*offsetWidth:], offsetWidth)
	}
	end := getOffset(offsetTable[varIndexBefore*offsetWidth:], offsetWidth)
	if isNull {
		return nil, nil
	}
	if int(end) > len(vardata) || start > end {
		return nil, kverrors.New(kverrors.Assembly, "chunk var-data offset out of range")
	}
	return decodeValue(col, vardata[start:end])
}

// --- value encode/decode ---

func encodeValue(col schema.Column, v any) ([]byte, error) {
	switch col.Type {
	case schema.Int8:
		i, ok := v.(int8)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		return []byte{byte(i)}, nil
	case schema.Int16:
		i, ok := v.(int16)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(i))
		return b, nil
	case schema.Int32:
		i, ok := v.(int32)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(i))
		return b, nil
	case schema.Int64:
		i, ok := v.(int64)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(i))
		return b, nil
	case schema.Float32:
		f, ok := v.(float32)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, float32bits(f))
		return b, nil
	case schema.Float64:
		f, ok := v.(float64)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, float64bits(f))
		return b, nil
	case schema.String:
		str, ok := v.(string)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		if !utf8.ValidString(str) {
			return nil, kverrors.New(kverrors.Assembly, fmt.Sprintf("column %q: invalid UTF-8", col.Name))
		}
		return []byte(str), nil
	case schema.Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		return b, nil
	case schema.UUID:
		u, ok := v.([16]byte)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		return u[:], nil
	case schema.Bitmask:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		want := (col.Bits + 7) / 8
		if len(b) != want {
			return nil, kverrors.New(kverrors.Assembly, fmt.Sprintf("column %q: bitmask width mismatch", col.Name))
		}
		return b, nil
	case schema.Decimal, schema.Number:
		bi, ok := v.(*big.Int)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		if bi.BitLen() > 0 && numDigits(bi) > col.Precision {
			return nil, kverrors.New(kverrors.PrecisionExceeded, fmt.Sprintf("column %q exceeds declared precision %d", col.Name, col.Precision))
		}
		// big.Int.Bytes() encodes only the magnitude, so the sign rides
		// along as an explicit leading byte rather than being folded
		// into the two's-complement representation itself.
		out := make([]byte, 1+len(bi.Bytes()))
		if bi.Sign() < 0 {
			out[0] = 1
		}
		copy(out[1:], bi.Bytes())
		return out, nil
	case schema.Date:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		enc := bintuple.EncodeDate(t.Year(), int(t.Month()), t.Day())
		return enc[:], nil
	case schema.Time:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		return bintuple.EncodeTime(t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), col.Precision), nil
	case schema.Datetime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		date := bintuple.EncodeDate(t.Year(), int(t.Month()), t.Day())
		clock := bintuple.EncodeTime(t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), col.Precision)
		return append(date[:], clock...), nil
	case schema.Timestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeMismatch(col, v)
		}
		return bintuple.EncodeTimestamp(t, col.Precision), nil
	default:
		return nil, kverrors.New(kverrors.Assembly, fmt.Sprintf("column %q: unsupported native type", col.Name))
	}
}

func decodeValue(col schema.Column, b []byte) (any, error) {
	switch col.Type {
	case schema.Int8:
		return int8(b[0]), nil
	case schema.Int16:
		return int16(binary.BigEndian.Uint16(b)), nil
	case schema.Int32:
		return int32(binary.BigEndian.Uint32(b)), nil
	case schema.Int64:
		return int64(binary.BigEndian.Uint64(b)), nil
	case schema.Float32:
		return float32frombits(binary.BigEndian.Uint32(b)), nil
	case schema.Float64:
		return float64frombits(binary.BigEndian.Uint64(b)), nil
	case schema.String:
		return string(b), nil
	case schema.Bytes:
		return append([]byte{}, b...), nil
	case schema.UUID:
		var u [16]byte
		copy(u[:], b)
		return u, nil
	case schema.Bitmask:
		return append([]byte{}, b...), nil
	case schema.Decimal, schema.Number:
		if len(b) == 0 {
			return new(big.Int), nil
		}
		bi := new(big.Int).SetBytes(b[1:])
		if b[0] != 0 {
			bi.Neg(bi)
		}
		return bi, nil
	case schema.Date:
		var arr [3]byte
		copy(arr[:], b)
		y, m, d := bintuple.DecodeDate(arr)
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
	case schema.Time:
		h, mi, s, ns, err := bintuple.DecodeTime(b, col.Precision)
		if err != nil {
			return nil, err
		}
		return time.Date(0, 1, 1, h, mi, s, ns, time.UTC), nil
	case schema.Datetime:
		var arr [3]byte
		copy(arr[:], b[:3])
		y, m, d := bintuple.DecodeDate(arr)
		h, mi, s, ns, err := bintuple.DecodeTime(b[3:], col.Precision)
		if err != nil {
			return nil, err
		}
		return time.Date(y, time.Month(m), d, h, mi, s, ns, time.UTC), nil
	case schema.Timestamp:
		return bintuple.DecodeTimestamp(b, col.Precision)
	default:
		return nil, kverrors.New(kverrors.Assembly, fmt.Sprintf("column %q: unsupported native type", col.Name))
	}
}

func typeMismatch(col schema.Column, v any) error {
	return kverrors.New(kverrors.SchemaMismatch, fmt.Sprintf("column %q: value %T does not match declared type", col.Name, v))
}

func numDigits(bi *big.Int) int {
	return len(new(big.Int).Abs(bi).Text(10))
}

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }
