package notify

import (
	"context"
)

// Knock is the "digital knock" request that interrupts the target's screen with an
// incoming-call prompt.
type Knock struct {
	LocationID string
	MeetingID  string
	CallerName string
	CallType   string
}

// Notifier alerts a target location through a channel other than the signaling socket.
type Notifier interface {
	Name() string
	SignalIncoming(ctx context.Context, k Knock) error
	// SignalRestore tells the target to leave the call screen and restore its previous state.
	SignalRestore(ctx context.Context, locationID, meetingID string) error
}

// Noop is used when no notification provider is configured.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) SignalIncoming(ctx context.Context, k Knock) error { return nil }

func (Noop) SignalRestore(ctx context.Context, locationID, meetingID string) error { return nil }
