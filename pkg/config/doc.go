// Package config loads node configuration two ways, per spec §6's
// management-plane configuration surface: a YAML bootstrap file read
// once at startup (node id, bind addresses, data dir, peers), and a
// HOCON-like dotted-path textual overlay applied on top of it or
// returned verbatim for the GET/PATCH configuration endpoints.
package config
