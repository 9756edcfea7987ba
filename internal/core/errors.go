package core

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error classification. Codes and names
// never change across releases; the tool frontier serializes them into the
// {code, name, message, details?} envelope.
type Kind struct {
	Code int
	Name string
}

var (
	// Input / shape
	KindInvalidArgument = Kind{1001, "InvalidArgument"}
	KindSchemaViolation = Kind{1002, "SchemaViolation"}
	KindUnauthorized    = Kind{1003, "Unauthorized"}
	KindRateLimited     = Kind{1004, "RateLimited"}
	KindTimeout         = Kind{1005, "Timeout"}

	// Entity lookup
	KindProjectNotFound     = Kind{2001, "ProjectNotFound"}
	KindAgentNotFound       = Kind{2002, "AgentNotFound"}
	KindMessageNotFound     = Kind{2003, "MessageNotFound"}
	KindReservationNotFound = Kind{2004, "ReservationNotFound"}
	KindBuildSlotNotFound   = Kind{2005, "BuildSlotNotFound"}
	KindAttachmentNotFound  = Kind{2006, "AttachmentNotFound"}
	KindContactNotFound     = Kind{2007, "ContactNotFound"}
	KindProductNotFound     = Kind{2008, "ProductNotFound"}
	KindMacroNotFound       = Kind{2009, "MacroNotFound"}
	KindToolNotFound        = Kind{2010, "ToolNotFound"}

	// Policy / state
	KindPolicyDenied    = Kind{3001, "PolicyDenied"}
	KindEmptyRecipients = Kind{3002, "EmptyRecipients"}
	KindNameCollision   = Kind{3003, "NameCollision"}
	KindAlreadyReleased = Kind{3004, "AlreadyReleased"}
	KindNotOwner        = Kind{3005, "NotOwner"}

	// Concurrency
	KindReservationConflict = Kind{4001, "ReservationConflict"}
	KindBuildSlotHeld       = Kind{4002, "BuildSlotHeld"}

	// Persistence
	KindPersistenceError  = Kind{5001, "PersistenceError"}
	KindMigrationError    = Kind{5002, "MigrationError"}
	KindArchiveWriteError = Kind{5003, "ArchiveWriteError"}
	KindInternal          = Kind{5999, "Internal"}
)

// Error is the typed error surfaced by controllers. Details carries
// machine-readable context only; Message never leaks store internals.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Name, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Name, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two *Error values by kind so callers can compare against a
// template with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Errf constructs a typed error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a typed error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails sets the machine-readable detail payload.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the error kind, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
