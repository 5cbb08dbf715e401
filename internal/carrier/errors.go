package carrier

import "fmt"

// ParseError indicates a malformed frame (bad JSON, unknown event type,
// missing required fields). The frame is dropped and logged; a single bad
// frame is never fatal for the connection.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// PayloadError indicates invalid audio encoding in a media frame. Only the
// frame is dropped; the session is unaffected.
type PayloadError struct {
	Reason string
	Cause  error
}

func (e *PayloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("payload error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("payload error: %s", e.Reason)
}

func (e *PayloadError) Unwrap() error { return e.Cause }
