package passkey

import "errors"

// Rejection reasons. These are the complete set of user-facing strings the
// engine returns for recoverable conditions; they are safe to show to the
// client and specific enough to let it retry the flow.
const (
	RejectInvalidResponse        = "Invalid response."
	RejectMissingChallenge       = "Missing challenge cookie."
	RejectAuthenticatorNotFound  = "Authenticator not found."
	RejectVerificationFailed     = "Failed to verify response."
	RejectEmailRequired          = "Email is required for registration."
	RejectMissingProviderAccount = "Missing providerAccountId from challenge cookie."
)

// Rejection is a recoverable refusal: malformed client input, a missing or
// expired challenge, an unknown credential, or failed verification. It is
// a legitimate negative outcome, never a system fault.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(reason string) error { return &Rejection{Reason: reason} }

// RejectionReason reports whether err is a recoverable rejection and, if
// so, returns its user-facing reason.
func RejectionReason(err error) (string, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// Kind classifies fault-tier errors so callers can map them to an opaque
// user message without re-deriving sensitive detail.
type Kind string

const (
	// KindMissingAdapter: the engine was constructed without an adapter.
	// A configuration fault that should never reach runtime.
	KindMissingAdapter Kind = "missing_adapter"

	// KindAdapter: a persistence call failed. When the failed call is the
	// counter update this is security-relevant, since an un-persisted
	// counter reopens a replay window.
	KindAdapter Kind = "adapter"

	// KindVerification: the cryptographic check raised an error.
	KindVerification Kind = "verification"

	// KindDataIntegrity: an internal invariant was violated, e.g. a
	// verified authenticator with no owning user.
	KindDataIntegrity Kind = "data_integrity"
)

// Error is a classified system fault. Message is generic and safe to
// surface; the full cause is logged at the point of detection.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind) + " fault"
}

func (e *Error) Unwrap() error { return e.Cause }

func fault(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the fault kind of err, or "" if err is nil or a
// rejection.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
