package config

import (
	"bufio"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// Overlay holds textual configuration overrides addressed by
// dotted path, e.g. "cluster.name" or "raft.heartbeat-timeout". It
// backs the GET/PATCH /management/v1/configuration/{cluster|node}
// endpoints: values are always strings, parsed by the caller into
// whatever type a given key expects.
//
// There is no HOCON-style library anywhere in the corpus this was
// built from, so the parser below is a small stdlib one: one
// "key = value" or "key=value" pair per line, "#" starts a comment,
// blank lines ignored.
type Overlay struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{values: make(map[string]string)}
}

// ParseOverlay parses dotted-path key=value text into an Overlay.
func ParseOverlay(text string) (*Overlay, error) {
	o := NewOverlay()
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, kverrors.New(kverrors.Assembly, "overlay line "+strconv.Itoa(lineNo)+" missing '='")
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, kverrors.New(kverrors.Assembly, "overlay line "+strconv.Itoa(lineNo)+" has empty key")
		}
		o.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, kverrors.Wrap(kverrors.Assembly, "scan overlay text", err)
	}
	return o, nil
}

// Get returns the value stored at a dotted path.
func (o *Overlay) Get(path string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[path]
	return v, ok
}

// Set stores (or replaces) the value at a dotted path.
func (o *Overlay) Set(path, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[path] = value
}

// Delete removes a dotted path, if present.
func (o *Overlay) Delete(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.values, path)
}

// Subtree returns every key under a dotted prefix (prefix itself
// included if set directly), keyed by their full path. Used to serve
// GET /management/v1/configuration/cluster without a trailing path,
// returning the whole tree.
func (o *Overlay) Subtree(prefix string) map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range o.values {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+".") {
			out[k] = v
		}
	}
	return out
}

// Render serializes the overlay back to "key = value" lines. Order is
// not guaranteed; callers needing stable output should sort the
// returned Subtree keys themselves.
func (o *Overlay) Render() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var b strings.Builder
	for k, v := range o.values {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}
