package synchronizer

import (
	"errors"

	"github.com/user/mapic/internal/state"
	"github.com/user/mapic/pkg/imagegen"
)

var (
	// ErrBusy is returned when a generation is submitted while another is pending.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrNotFound is returned when selecting an id that is not in history.
	ErrNotFound = errors.New("generation not found")
	// ErrSignedOut is returned by operations that need a signed-in user.
	ErrSignedOut = errors.New("not signed in")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("synchronizer closed")

	ErrDuplicateID   = state.ErrDuplicateID
	ErrInvalidInput  = imagegen.ErrInvalidInput
	ErrRemoteFailure = imagegen.ErrRemoteFailure
)
