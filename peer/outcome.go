package peer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StatusClientClosed is reported when the caller's context ends a call.
const StatusClientClosed = 499

// Failure is the terminal error of a peer call. It carries the HTTP status
// that ended the call, or 503 when the peer was never reached.
type Failure struct {
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("peer call failed (status %d): %s", f.StatusCode, f.Message)
}

// Unavailable reports whether the failure means the peer could not serve
// the request, as opposed to rejecting it.
func (f *Failure) Unavailable() bool {
	return f.StatusCode >= 500
}

// Outcome is the single terminal result of Client.Call. Exactly one of
// Payload and Failure is set.
type Outcome struct {
	// Payload is the complete, valid JSON body of a 2xx response.
	Payload json.RawMessage

	// Failure describes why the call did not succeed.
	Failure *Failure

	// Attempts is how many requests were issued.
	Attempts int
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// ErrNoPayload is returned by Decode on a failed outcome.
var ErrNoPayload = errors.New("outcome has no payload")

// Decode unmarshals the success payload into v.
func (o Outcome) Decode(v any) error {
	if o.Failure != nil {
		return fmt.Errorf("%w: %v", ErrNoPayload, o.Failure)
	}
	if err := json.Unmarshal(o.Payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func failed(status int, message string, attempts int) Outcome {
	return Outcome{
		Failure:  &Failure{StatusCode: status, Message: message},
		Attempts: attempts,
	}
}
