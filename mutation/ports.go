package mutation

import "context"

// Mutator performs deletes against the backing resource.
type Mutator interface {
	// DeleteMany deletes ids in one request.
	DeleteMany(ctx context.Context, ids []string) error
	// DeleteAll deletes every row of the resource.
	DeleteAll(ctx context.Context) error
}

// Invalidator marks cached reads stale by tag. *invalidation.Bus satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) int
}

// Level is the severity of a notification.
type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "success"
}

// Notifier shows a message to the user, e.g. a toast.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) {
	f(level, message)
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(message string) bool
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(message string) bool

func (f ConfirmerFunc) Confirm(message string) bool {
	return f(message)
}
