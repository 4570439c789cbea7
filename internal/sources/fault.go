package sources

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/briangreenhill/roomwatch/internal/rooms"
)

// FaultKind classifies why a source produced no data
type FaultKind string

const (
	// UpstreamUnavailable covers network errors, timeouts, 5xx and 429
	UpstreamUnavailable FaultKind = "upstream-unavailable"
	// UpstreamMalformed covers undecodable bodies, unexpected status
	// fields and other 4xx responses
	UpstreamMalformed FaultKind = "upstream-malformed"
)

// FetchFault is the error every Source returns. The orchestrator turns it
// into a degraded facility; nothing below it does.
type FetchFault struct {
	Kind     FaultKind
	Facility string
	Err      error
}

func (f *FetchFault) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Facility, f.Kind, f.Err)
}

func (f *FetchFault) Unwrap() error { return f.Err }

// Fault returns the user-facing descriptor
func (f *FetchFault) Fault() rooms.Fault {
	return rooms.Fault{Kind: string(f.Kind), Message: f.Err.Error()}
}

// StatusError is a non-2xx upstream response
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s: %s", e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// Temporary reports whether retrying could help
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// DecodeError wraps a body that could not be understood
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.URL, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

func unavailable(id string, err error) *FetchFault {
	return &FetchFault{Kind: UpstreamUnavailable, Facility: id, Err: err}
}

func malformed(id string, err error) *FetchFault {
	return &FetchFault{Kind: UpstreamMalformed, Facility: id, Err: err}
}

// Classify wraps err as a FetchFault for facility id. Errors that are
// already faults are returned as they are.
func Classify(id string, err error) *FetchFault {
	var ff *FetchFault
	if errors.As(err, &ff) {
		return ff
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.Temporary() {
			return unavailable(id, err)
		}
		return malformed(id, err)
	}

	var de *DecodeError
	if errors.As(err, &de) {
		return malformed(id, err)
	}

	// network errors and timeouts
	return unavailable(id, err)
}

// FaultOf describes any error as a rooms.Fault
func FaultOf(id string, err error) rooms.Fault {
	return Classify(id, err).Fault()
}

// IsFault reports whether err came from a source
func IsFault(err error) bool {
	var ff *FetchFault
	return errors.As(err, &ff)
}
