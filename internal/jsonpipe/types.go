package jsonpipe

import (
	"fmt"
	"strings"
)

// Messages shown verbatim by the frontend
const (
	MsgEmpty      = "please enter JSON content"
	MsgProcessing = "processing, please wait…"
	MsgInvalid    = "invalid JSON"
	MsgTimeout    = "timeout: input may be too large or malformed; try splitting"
)

// Operation selects the output style
type Operation int

const (
	Pretty Operation = iota
	Minify
)

func (o Operation) String() string {
	if o == Minify {
		return "minify"
	}
	return "pretty"
}

// failureMessage is the terminal text for a serializer failure after a good parse
func (o Operation) failureMessage() string {
	if o == Minify {
		return "minify failed"
	}
	return "format failed"
}

// ParseOperation accepts "pretty"/"format" and "minify"/"compact"
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pretty", "format":
		return Pretty, nil
	case "minify", "compact":
		return Minify, nil
	default:
		return Pretty, fmt.Errorf("unknown JSON operation: %q", s)
	}
}

// Request is one unit of work. The pipeline owns it once submitted.
type Request struct {
	Input string
	Op    Operation
}

// EventKind distinguishes progress updates from the terminal result
type EventKind int

const (
	EventProgress EventKind = iota
	EventResult
)

func (k EventKind) String() string {
	if k == EventResult {
		return "result"
	}
	return "progress"
}

// Event is one element of a job's ordered stream
type Event struct {
	Kind     EventKind
	Progress int    // 0-100, progress events only
	Text     string // result events only
	Failed   bool   // result events only, Text is an error message
}

// IsTerminal reports whether e ends the stream
func (e Event) IsTerminal() bool {
	return e.Kind == EventResult
}

func progressEvent(p int) Event {
	return Event{Kind: EventProgress, Progress: p}
}

func resultEvent(text string) Event {
	return Event{Kind: EventResult, Text: text}
}

func failureEvent(text string) Event {
	return Event{Kind: EventResult, Text: text, Failed: true}
}

// SizeClass decides how an input is scheduled
type SizeClass int

const (
	ClassEmpty SizeClass = iota
	ClassOversized
	ClassSmall
	ClassMedium
	ClassLarge
)

func (c SizeClass) String() string {
	switch c {
	case ClassEmpty:
		return "empty"
	case ClassOversized:
		return "oversized"
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Async reports whether the class runs on a worker goroutine
func (c SizeClass) Async() bool {
	return c == ClassMedium || c == ClassLarge
}

// Limits are the byte thresholds between size classes
type Limits struct {
	SyncMaxBytes  int // inputs shorter than this run synchronously
	LargeMinBytes int // inputs longer than this take the large ladder
	MaxBytes      int // inputs longer than this are rejected
}

// DefaultLimits returns 5,000 / 500,000 / 20 MiB
func DefaultLimits() Limits {
	return Limits{
		SyncMaxBytes:  5000,
		LargeMinBytes: 500000,
		MaxBytes:      20 * 1024 * 1024,
	}
}

// Classify maps an input length in bytes to its size class
func (l Limits) Classify(n int) SizeClass {
	switch {
	case n == 0:
		return ClassEmpty
	case n > l.MaxBytes:
		return ClassOversized
	case n < l.SyncMaxBytes:
		return ClassSmall
	case n <= l.LargeMinBytes:
		return ClassMedium
	default:
		return ClassLarge
	}
}

func oversizedMessage(n int) string {
	return fmt.Sprintf("JSON too large (%.2fMB), please split", float64(n)/(1024*1024))
}

func invalidMessage(err error) string {
	return fmt.Sprintf("%s: %v", MsgInvalid, err)
}
