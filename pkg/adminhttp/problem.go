package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// problem is an application/problem+json body (RFC 7807-shaped,
// trimmed to what the management clients in spec §6 need).
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Title: title, Status: status, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a problem+json body, mapping kverrors
// kinds to HTTP status the way spec §6 describes per-endpoint (400 for
// argument errors, 403 for JoinDenied/Perm, 404 for missing resources,
// 409 for Busy/CatchUp, 500 otherwise).
func writeError(w http.ResponseWriter, err error) {
	var kerr *kverrors.Error
	if !errors.As(err, &kerr) {
		writeProblem(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch kerr.Kind {
	case kverrors.InvalidInitArgument, kverrors.SchemaMismatch, kverrors.Assembly:
		status = http.StatusBadRequest
	case kverrors.JoinDenied, kverrors.Perm:
		status = http.StatusForbidden
	case kverrors.LogNotFound:
		status = http.StatusNotFound
	case kverrors.Busy, kverrors.CatchUp:
		status = http.StatusConflict
	}
	writeProblem(w, status, string(kerr.Kind), kerr.Msg)
}
