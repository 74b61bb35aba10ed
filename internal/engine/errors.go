package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnexpectedStatus matches every *StatusError.
	ErrUnexpectedStatus = errors.New("engine: unexpected response status")

	// ErrStalled is the cause recorded when the body stops producing bytes for longer
	// than the read timeout.
	ErrStalled = errors.New("engine: download stalled")

	// ErrShortBody is returned when the stream ends before the advertised size.
	ErrShortBody = errors.New("engine: body shorter than advertised size")
)

// StatusError means the server answered with something other than 200/206.
// The partial file is left in place for a later resume.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// TransportError means the request or the stream failed mid-flight.
// The partial file has been deleted.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsStatusFailure reports whether err left the partial file for resume.
func IsStatusFailure(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsTransportFailure reports whether err discarded the partial file.
func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ParseContentRange parses a Content-Range header value.
// Format: "bytes start-end/total", "bytes start-end/*" or "bytes */total".
// Unknown parts are returned as -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")

	rng, size, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	if rng == "*" {
		return -1, -1, total, nil
	}

	s, e, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(s, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(e, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: end %d before start %d", end, start)
	}

	return start, end, total, nil
}
