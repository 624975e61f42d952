package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LineKind classifies a raw SSE line.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineEvent
	LineData
	LineComment
)

// Line is one classified SSE line.
type Line struct {
	Kind  LineKind
	Value string
}

// ParseLine classifies a raw SSE line. Lines that match no known prefix are
// treated as comments so garbage on the wire cannot wedge the assembler.
func ParseLine(line string) Line {
	if line == "" {
		return Line{Kind: LineEmpty}
	}
	if rest, ok := strings.CutPrefix(line, ":"); ok {
		return Line{Kind: LineComment, Value: strings.TrimSpace(rest)}
	}
	if rest, ok := strings.CutPrefix(line, "event:"); ok {
		return Line{Kind: LineEvent, Value: strings.TrimSpace(rest)}
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return Line{Kind: LineData, Value: strings.TrimSpace(rest)}
	}
	return Line{Kind: LineComment, Value: line}
}

// ErrMissingData reports an SSE frame that named an event type requiring a
// payload but carried none.
var ErrMissingData = errors.New("sse event has no data")

// Assembler accumulates SSE lines into complete frames and decodes each frame
// as it completes. One Assembler per stream; not safe for concurrent use.
type Assembler struct {
	eventType string
	hasType   bool
	data      []string
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed consumes one raw line. It returns a decoded event when the line
// completed a frame, nil otherwise.
func (a *Assembler) Feed(line string) (Event, error) {
	switch parsed := ParseLine(line); parsed.Kind {
	case LineEvent:
		a.eventType = parsed.Value
		a.hasType = true
		return nil, nil
	case LineData:
		a.data = append(a.data, parsed.Value)
		return nil, nil
	case LineComment:
		return nil, nil
	default:
		return a.emit()
	}
}

func (a *Assembler) emit() (Event, error) {
	if !a.hasType && len(a.data) == 0 {
		return nil, nil
	}

	eventType := a.eventType
	hasType := a.hasType
	data := strings.Join(a.data, "\n")
	a.Reset()

	// Frames without an event: line carry the type inside the JSON payload.
	if !hasType && data != "" {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(data), &probe); err == nil && probe.Type != "" {
			eventType = probe.Type
			hasType = true
		}
	}

	if !hasType {
		// Bare data defaults to a content frame.
		return Decode("content", data)
	}

	if data == "" {
		normalized := normalizeType(eventType)
		if normalized == "done" || normalized == "ping" {
			return Decode(eventType, "{}")
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingData, eventType)
	}

	return Decode(eventType, data)
}

// Reset clears partial frame state, e.g. after a reconnect.
func (a *Assembler) Reset() {
	a.eventType = ""
	a.hasType = false
	a.data = nil
}
