package schema

// NativeType enumerates the column native types named in spec §3.
type NativeType int

const (
	Int8 NativeType = iota
	Int16
	Int32
	Int64
	Float32
	Float64
	Decimal // precision, scale
	Number  // precision
	String
	Bytes
	UUID
	Bitmask // bits
	Date
	Time      // precision
	Datetime  // precision
	Timestamp // precision
)

// Fixed reports whether values of t occupy a fixed number of bytes on
// the wire (no offset-table entry needed). Decimal, Number, String,
// Bytes and Bitmask are variable length; everything else is fixed.
func (t NativeType) Fixed() bool {
	switch t {
	case Decimal, Number, String, Bytes, Bitmask:
		return false
	default:
		return true
	}
}

// FixedSize returns the on-wire size in bytes for fixed-size native
// types, given the column's declared precision (used by Time/Datetime,
// whose trailing fractional field depends on it; Timestamp is always 12
// bytes). Panics if called on a variable-size type.
func (t NativeType) FixedSize(col Column) int {
	switch t {
	case Int8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case UUID:
		return 16
	case Date:
		return 3
	case Time:
		return timeEncodedSize(col.Precision)
	case Datetime:
		return 3 + timeEncodedSize(col.Precision)
	case Timestamp:
		return 8 + 4 // epoch seconds + normalized nanos (always present)
	default:
		panic("schema: FixedSize called on variable-size type")
	}
}

func timeEncodedSize(precision int) int {
	// 3 bytes pack hour/minute/second; fractional field width grows
	// with precision, per spec §4.2.
	switch {
	case precision <= 0:
		return 3
	case precision <= 3:
		return 3 + 2 // millis
	case precision <= 6:
		return 3 + 3 // micros
	default:
		return 3 + 4 // nanos
	}
}

// Column describes a single row column.
type Column struct {
	Name       string
	Type       NativeType
	Nullable   bool
	Precision  int // Decimal/Number/Time/Datetime/Timestamp
	Scale      int // Decimal
	Bits       int // Bitmask
}

// Schema is an ordered sequence of key columns followed by value
// columns, versioned as a whole (spec §3).
type Schema struct {
	Version      uint32
	KeyColumns   []Column
	ValueColumns []Column
}

// AllColumns returns key columns followed by value columns, in the
// order row bytes are written.
func (s Schema) AllColumns() []Column {
	all := make([]Column, 0, len(s.KeyColumns)+len(s.ValueColumns))
	all = append(all, s.KeyColumns...)
	all = append(all, s.ValueColumns...)
	return all
}

// KeyOnly reports whether the schema has no value columns, in which
// case the binary row's schema-version field is zeroed (spec
// invariant: "a row with no value columns has schema-version zeroed").
func (s Schema) KeyOnly() bool {
	return len(s.ValueColumns) == 0
}
