package calls

import "errors"

// Reason enumerates why a request was rejected before any external side effect.
type Reason string

const (
	ReasonDeviceOffline    Reason = "DEVICE_OFFLINE"
	ReasonActiveCallExists Reason = "ACTIVE_CALL_EXISTS"
	ReasonNotFound         Reason = "NOT_FOUND"
)

// RejectedError is a precondition failure. No state was mutated.
type RejectedError struct {
	Reason Reason
}

func (e *RejectedError) Error() string { return "call rejected: " + string(e.Reason) }

var (
	ErrDeviceOffline    = &RejectedError{Reason: ReasonDeviceOffline}
	ErrActiveCallExists = &RejectedError{Reason: ReasonActiveCallExists}
	// ErrSessionNotFound is also returned by SessionStore implementations for missing records.
	ErrSessionNotFound = &RejectedError{Reason: ReasonNotFound}
)

var (
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStatusConflict is returned from an update guard when the session is no
	// longer in the status the transition expects.
	ErrStatusConflict = errors.New("session status changed")

	// ErrClaimLost is returned by SessionStore.Create when the location claim expired
	// and may be held by another session. Nothing is written.
	ErrClaimLost = errors.New("location claim not held by session")
)

// ProviderError is a blocking failure of an external collaborator during initiation.
// Error() names only the operation; the cause is available through Unwrap for logging.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return "provider failure: " + e.Op }

func (e *ProviderError) Unwrap() error { return e.Err }

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
