// Package wire implements the client/server wire protocol from spec
// §6: 4-byte big-endian length-prefixed framing, a JSON header map
// (message_type, request_id, flags), an opaque payload interpreted per
// message_type, and the IG03 handshake.
package wire
