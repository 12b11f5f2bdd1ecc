package imagegen

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks requests rejected before any network call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRemoteFailure matches every *RemoteError via errors.Is.
	ErrRemoteFailure = errors.New("remote failure")
)

// RemoteError reports a failed call to the remote service. Message is the
// best human-readable explanation available, suitable for showing to users.
type RemoteError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRemoteFailure) match any RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteFailure
}

// UserMessage extracts the message to display for err. Remote errors yield
// their service message; anything else yields err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}
