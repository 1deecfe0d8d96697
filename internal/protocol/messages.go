package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"virtualcare-platform/internal/meeting"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeRegister        MessageType = "register"
	TypeRegisterBrowser MessageType = "register_browser"
	TypeJoinLocation    MessageType = "join_location"
	TypeHeartbeat       MessageType = "heartbeat"
	TypePTZCommand      MessageType = "ptz_command"

	// Server -> client.
	TypeRegistered       MessageType = "registered"
	TypeIncomingCall     MessageType = "incoming_call"
	TypeJoinMeeting      MessageType = "join_meeting"
	TypeLeaveMeeting     MessageType = "leave_meeting"
	TypeCallStatusUpdate MessageType = "call_status_update"
	TypeCallEnded        MessageType = "call_ended"
	TypeErrorEvent       MessageType = "error_event"
)

// Audience selects which endpoints at a location a signal is addressed to.
type Audience string

const (
	AudienceDevice  Audience = "device"
	AudienceBrowser Audience = "browser"
	AudienceAny     Audience = "any"
)

// Matches reports whether an endpoint of kind k is addressed by a.
func (a Audience) Matches(k Audience) bool {
	return a == AudienceAny || a == k
}

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Register struct {
	Type            MessageType `json:"type"`
	EndpointID      string      `json:"endpoint_id"`
	LocationID      string      `json:"location_id"`
	FirmwareVersion string      `json:"firmware_version,omitempty"`
	Capabilities    []string    `json:"capabilities,omitempty"`
}

// RegisterBrowser binds a patient-side browser to a location. EndpointID is
// assigned by the server when omitted.
type RegisterBrowser struct {
	Type       MessageType `json:"type"`
	EndpointID string      `json:"endpoint_id,omitempty"`
	LocationID string      `json:"location_id"`
}

// JoinLocation subscribes a console to call status updates for a location.
type JoinLocation struct {
	Type       MessageType `json:"type"`
	LocationID string      `json:"location_id"`
}

type Heartbeat struct {
	Type       MessageType `json:"type"`
	EndpointID string      `json:"endpoint_id"`
}

type PTZCommand struct {
	Type     MessageType `json:"type"`
	DeviceID string      `json:"device_id"`
	Command  string      `json:"command"`
	Value    *float64    `json:"value,omitempty"`
}

type Registered struct {
	Type                MessageType `json:"type"`
	EndpointID          string      `json:"endpoint_id"`
	LocationID          string      `json:"location_id"`
	HeartbeatIntervalMs int64       `json:"heartbeat_interval_ms"`
}

type IncomingCall struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	MeetingID  string      `json:"meeting_id"`
	LocationID string      `json:"location_id"`
	CallerName string      `json:"caller_name"`
	CallType   string      `json:"call_type"`
}

type JoinMeeting struct {
	Type           MessageType       `json:"type"`
	SessionID      string            `json:"session_id"`
	MeetingID      string            `json:"meeting_id"`
	MediaRegion    string            `json:"media_region"`
	MediaPlacement meeting.Placement `json:"media_placement"`
	AttendeeID     string            `json:"attendee_id"`
	JoinToken      string            `json:"join_token"`
}

type LeaveMeeting struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MeetingID string      `json:"meeting_id"`
}

type CallStatusUpdate struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	LocationID string      `json:"location_id"`
	Status     string      `json:"status"`
	TSMs       int64       `json:"ts_ms"`
}

type CallEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MeetingID string      `json:"meeting_id"`
	Status    string      `json:"status"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRegister:
		var msg Register
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.EndpointID = strings.TrimSpace(msg.EndpointID)
		msg.LocationID = strings.TrimSpace(msg.LocationID)
		if msg.EndpointID == "" || msg.LocationID == "" {
			return nil, errors.New("invalid register")
		}
		return msg, nil
	case TypeRegisterBrowser:
		var msg RegisterBrowser
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.LocationID = strings.TrimSpace(msg.LocationID)
		if msg.LocationID == "" {
			return nil, errors.New("invalid register_browser")
		}
		return msg, nil
	case TypeJoinLocation:
		var msg JoinLocation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.LocationID = strings.TrimSpace(msg.LocationID)
		if msg.LocationID == "" {
			return nil, errors.New("invalid join_location")
		}
		return msg, nil
	case TypeHeartbeat:
		var msg Heartbeat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.EndpointID == "" {
			return nil, errors.New("invalid heartbeat")
		}
		return msg, nil
	case TypePTZCommand:
		var msg PTZCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.DeviceID == "" || msg.Command == "" {
			return nil, errors.New("invalid ptz_command")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the wire type of a known message value.
func TypeOf(msg any) (MessageType, bool) {
	switch m := msg.(type) {
	case Register:
		return m.Type, true
	case RegisterBrowser:
		return m.Type, true
	case JoinLocation:
		return m.Type, true
	case Heartbeat:
		return m.Type, true
	case PTZCommand:
		return m.Type, true
	case Registered:
		return m.Type, true
	case IncomingCall:
		return m.Type, true
	case JoinMeeting:
		return m.Type, true
	case LeaveMeeting:
		return m.Type, true
	case CallStatusUpdate:
		return m.Type, true
	case CallEnded:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
