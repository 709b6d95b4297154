package mutation

import (
	"errors"
	"fmt"
	"strings"

	perrors "github.com/jmgilman/go/errors"
)

var (
	// ErrNotConfirmed is returned when the user declined the confirmation
	// prompt. Nothing was sent and no state changed.
	ErrNotConfirmed = errors.New("mutation: not confirmed")

	// ErrNothingSelected is returned by DeleteSelected with an empty selection.
	ErrNothingSelected = errors.New("mutation: nothing selected")
)

// Op names a mutation.
type Op string

const (
	OpDelete    Op = "delete"
	OpDeleteAll Op = "delete_all"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
)

// MutationError is a failed write. It is reported once per invocation.
type MutationError struct {
	Op       Op
	Resource string
	IDs      []string
	Err      error
}

func (e *MutationError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Resource, strings.Join(e.IDs, ","), e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Message returns the text shown to the user.
func (e *MutationError) Message() string {
	var platformErr perrors.PlatformError
	if perrors.As(e.Err, &platformErr) && platformErr.Message() != "" {
		return platformErr.Message()
	}
	return e.Err.Error()
}
