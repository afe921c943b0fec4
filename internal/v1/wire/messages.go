// Package wire implements the JSON wire protocol: one JSON value per
// WebSocket text frame, externally tagged by variant
// name ({"Variant": {...fields...}}), in both directions.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/watchroom/sync-server/internal/v1/timesync"
	"github.com/watchroom/sync-server/internal/v1/types"
)

// --- Client -> Server (UserMessage) ---

type HelloPayload struct {
	Name   string            `json:"name"`
	Avatar types.BadgeID     `json:"avatar"`
	Time   timesync.WireTime `json:"time"`
}

type GoodbyePayload struct{}

type StatePayload struct {
	Duration     float32           `json:"duration"`
	DurationTime timesync.WireTime `json:"duration_time"`
	State        types.PlayState   `json:"state"`
	StateTime    timesync.WireTime `json:"state_time"`
	Buffered     float32           `json:"buffered"`
	Time         timesync.WireTime `json:"time"`
}

type SeekPayload struct {
	Duration float32           `json:"duration"`
	Time     timesync.WireTime `json:"time"`
}

type SetStatePayload struct {
	State types.PlayState   `json:"state"`
	Time  timesync.WireTime `json:"time"`
}

// BufferingPayload and MessagePayload are accepted and ignored by the Room;
// they are still modeled here so those frames decode without error.
type BufferingPayload struct {
	Buffered float32 `json:"buffered"`
}

type MessagePayload struct {
	Content string `json:"content"`
}

// UserMessage is the tagged union of everything a client may send. Exactly
// one field is non-nil after a successful Unmarshal. Unknown is set (and no
// error is returned) when the frame names a variant this server doesn't
// recognize, per the "accepted without error and ignored" rule in §4.2 —
// the error surface is wire parsing (malformed JSON), not unknown variants.
type UserMessage struct {
	Hello     *HelloPayload
	Goodbye   *GoodbyePayload
	State     *StatePayload
	Seek      *SeekPayload
	SetState  *SetStatePayload
	Buffering *BufferingPayload
	Message   *MessagePayload
	Unknown   string
}

func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode user message envelope: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("expected exactly one tagged variant, got %d", len(tagged))
	}

	for tag, raw := range tagged {
		switch tag {
		case "Hello":
			var p HelloPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode Hello: %w", err)
			}
			m.Hello = &p
		case "Goodbye":
			m.Goodbye = &GoodbyePayload{}
		case "State":
			var p StatePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode State: %w", err)
			}
			m.State = &p
		case "Seek":
			var p SeekPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode Seek: %w", err)
			}
			m.Seek = &p
		case "SetState":
			var p SetStatePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode SetState: %w", err)
			}
			m.SetState = &p
		case "Buffering":
			var p BufferingPayload
			_ = json.Unmarshal(raw, &p) // best-effort; Buffering is ignored regardless
			m.Buffering = &p
		case "Message":
			var p MessagePayload
			_ = json.Unmarshal(raw, &p)
			m.Message = &p
		default:
			m.Unknown = tag
		}
	}
	return nil
}

// Describe renders a wire parse error as the text sent back in an Error
// frame.
func Describe(err error) string {
	return err.Error()
}

// --- Server -> Client (ToSessionMessage) ---

// ToSessionMessage is implemented by every server->client payload. The tag
// returned by wireTag is the sole JSON key the payload is wrapped under.
type ToSessionMessage interface {
	wireTag() string
}

type ParticipantInfo struct {
	UserID types.UserID    `json:"user_id"`
	Name   string          `json:"name"`
	Avatar types.BadgeID   `json:"avatar"`
	Badges []types.BadgeID `json:"badges"`
}

type ParticipantUpdate struct {
	UserID   types.UserID    `json:"user_id"`
	Duration float32         `json:"duration"`
	Buffered float32         `json:"buffered"`
	State    types.PlayState `json:"state"`
	Badges   []types.BadgeID `json:"badges"`
}

type StreamInfo struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Streams  []types.Stream  `json:"streams"`
	Duration float32         `json:"duration"`
	State    types.PlayState `json:"state"`
}

type RoomStateMsg struct {
	UserID        types.UserID      `json:"user_id"`
	Participants  []ParticipantInfo `json:"participants"`
	CurrentStream *StreamInfo       `json:"current_stream"`
}

func (RoomStateMsg) wireTag() string { return "RoomState" }

type RoomUpdateMsg struct {
	Participants []ParticipantUpdate `json:"participants"`
}

func (RoomUpdateMsg) wireTag() string { return "RoomUpdate" }

type NewParticipantMsg struct {
	UserID types.UserID    `json:"user_id"`
	Name   string          `json:"name"`
	Avatar types.BadgeID   `json:"avatar"`
	Badges []types.BadgeID `json:"badges"`
}

func (NewParticipantMsg) wireTag() string { return "NewParticipant" }

type ByeParticipantMsg struct {
	UserID types.UserID `json:"user_id"`
}

func (ByeParticipantMsg) wireTag() string { return "ByeParticipant" }

type NewStreamMsg struct {
	StreamInfo
}

func (NewStreamMsg) wireTag() string { return "NewStream" }

type SetStateEventMsg struct {
	User  types.UserID    `json:"user"`
	State types.PlayState `json:"state"`
}

func (SetStateEventMsg) wireTag() string { return "SetState" }

type DoSeekMsg struct {
	User     types.UserID `json:"user"`
	Duration float32      `json:"duration"`
}

func (DoSeekMsg) wireTag() string { return "DoSeek" }

type PingMsg struct{}

func (PingMsg) wireTag() string { return "Ping" }

type ChatMessageMsg struct {
	From types.UserID `json:"from"`
	Msg  string       `json:"msg"`
}

func (ChatMessageMsg) wireTag() string { return "ChatMessage" }

// ErrorMsg carries a plain string payload rather than an object, per §6.1
// (`Error` | string).
type ErrorMsg struct {
	Text string
}

func (ErrorMsg) wireTag() string { return "Error" }

// Marshal serializes a ToSessionMessage as its externally-tagged JSON frame.
func Marshal(msg ToSessionMessage) ([]byte, error) {
	if e, ok := msg.(ErrorMsg); ok {
		return json.Marshal(map[string]string{"Error": e.Text})
	}
	return json.Marshal(map[string]ToSessionMessage{msg.wireTag(): msg})
}
