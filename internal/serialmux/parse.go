package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/speedgate/internal/gate"
)

const (
	EventTypeEdge    = "edge"
	EventTypeConfig  = "config"
	EventTypeUnknown = "unknown"
)

// ErrMalformedEdge is returned by ParseEdge for a line that is not a valid
// edge report.
var ErrMalformedEdge = errors.New("malformed edge line")

// ClassifyPayload inspects a line from the board and returns a simple event
// type token.
func ClassifyPayload(payload string) string {
	switch {
	case strings.HasPrefix(payload, "{") && strings.Contains(payload, `"line"`):
		return EventTypeEdge
	case strings.HasPrefix(payload, "{"):
		return EventTypeConfig
	case strings.HasPrefix(payload, "entry,"), strings.HasPrefix(payload, "exit,"),
		strings.HasPrefix(payload, "start,"), strings.HasPrefix(payload, "end,"):
		return EventTypeEdge
	}
	return EventTypeUnknown
}

type edgeJSON struct {
	Line     string `json:"line"`
	UptimeMS *int64 `json:"uptime_ms"`
}

// ParseEdge parses an edge report, either as text ("entry,1234") or JSON
// ({"line":"exit","uptime_ms":1434}). Timestamps are board uptime in
// milliseconds.
func ParseEdge(payload string) (gate.Edge, error) {
	payload = strings.TrimSpace(payload)

	var name string
	var ts int64
	if strings.HasPrefix(payload, "{") {
		var e edgeJSON
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return gate.Edge{}, fmt.Errorf("%w: %v", ErrMalformedEdge, err)
		}
		if e.UptimeMS == nil {
			return gate.Edge{}, fmt.Errorf("%w: missing uptime_ms", ErrMalformedEdge)
		}
		name, ts = e.Line, *e.UptimeMS
	} else {
		line, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return gate.Edge{}, fmt.Errorf("%w: %q", ErrMalformedEdge, payload)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return gate.Edge{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEdge, rest)
		}
		name, ts = strings.TrimSpace(line), v
	}

	l, err := gate.ParseLine(name)
	if err != nil {
		return gate.Edge{}, fmt.Errorf("%w: %v", ErrMalformedEdge, err)
	}
	if ts < 0 {
		return gate.Edge{}, fmt.Errorf("%w: negative timestamp %d", ErrMalformedEdge, ts)
	}
	return gate.Edge{Line: l, UptimeMS: ts}, nil
}
