package mailbox

import "errors"

// Error kinds the session engine and its callers distinguish, per
// spec §7. They are sentinel values so callers can match with
// errors.Is even after a handler wraps them with additional context.
var (
	// ErrNotFound means the mailbox name does not resolve. During
	// refresh this converts the selected view to a tombstone; in direct
	// commands it surfaces to the protocol layer.
	ErrNotFound = errors.New("mailbox not found")

	// ErrReadOnly means a mutation was attempted against a mailbox or
	// view opened read-only.
	ErrReadOnly = errors.New("mailbox is read-only")
)
