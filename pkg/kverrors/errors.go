package kverrors

import (
	"errors"
	"fmt"
)

// Kind is one member of the closed error taxonomy from spec §7.
type Kind string

const (
	// Transport
	ReplicationTimeout Kind = "ReplicationTimeout"
	ReplicaUnavailable Kind = "ReplicaUnavailable"
	NodeStopping       Kind = "NodeStopping"
	Network            Kind = "Network"

	// Raft
	Busy        Kind = "Busy"
	Perm        Kind = "Perm"
	CatchUp     Kind = "CatchUp"
	ECancelled  Kind = "ECancelled"
	Timeout     Kind = "Timeout"
	StateMachine Kind = "StateMachine"

	// Transaction
	TxIDMismatch        Kind = "TxIdMismatch"
	ReadOnlyRejectsWrite Kind = "ReadOnlyRejectsWrite"
	LockConflict        Kind = "LockConflict"

	// Storage
	Storage           Kind = "Storage"
	SchemaMismatch    Kind = "SchemaMismatch"
	PrecisionExceeded Kind = "PrecisionExceeded"
	Assembly          Kind = "Assembly"
	LogIndexOutOfBounds Kind = "LogIndexOutOfBounds"
	LogNotFound       Kind = "LogNotFound"

	// Cluster
	InvalidInitArgument Kind = "InvalidInitArgument"
	JoinDenied          Kind = "JoinDenied"
	Init                Kind = "Init"

	// Unknown is returned by Classify for errors outside the taxonomy.
	Unknown Kind = "Unknown"
)

// Error is a taxonomy-tagged error. It wraps an optional cause so
// %w-style chains keep working with errors.Is/As.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Cause == nil:
		return string(e.Kind)
	case e.Cause == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, kverrors.New(SomeKind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Classify extracts the Kind from err, walking the wrap chain. Returns
// the empty Kind if err is nil, and Unknown if err carries no *Error in
// its chain.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err's classified kind matches kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}
