package task

import "fmt"

// Mode selects how the dispatch policy reads a request's declared intent.
type Mode string

// Dispatch policy modes.
const (
	// ModeQueryFlag runs asynchronously when the transport's query flag
	// was present and truthy.
	ModeQueryFlag Mode = "query-flag"

	// ModeHeaderFlag runs asynchronously when the transport's header
	// flag was present and truthy.
	ModeHeaderFlag Mode = "header-flag"

	// ModeAlways submits every invocation as a task.
	ModeAlways Mode = "always"

	// ModeNever runs every invocation synchronously.
	ModeNever Mode = "never"
)

// ParseMode validates a configured dispatch mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeQueryFlag, ModeHeaderFlag, ModeAlways, ModeNever:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// ShouldRunAsync decides synchronous versus asynchronous execution for one
// invocation. It is a pure function: intentSignal abstracts over "a flag was
// present and truthy" from whichever transport carries it, and the front end
// owns translating wire-level flags into that boolean. For query-flag and
// header-flag modes the signal decides; always and never ignore it.
func ShouldRunAsync(mode Mode, intentSignal bool) bool {
	switch mode {
	case ModeAlways:
		return true
	case ModeNever:
		return false
	case ModeQueryFlag, ModeHeaderFlag:
		return intentSignal
	default:
		return false
	}
}
