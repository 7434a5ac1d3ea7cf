package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mattfrayser/whiteboard-backend/internal/object"
)

// Event names, inbound and outbound.
const (
	EventJoinRoom     = "join_room"
	EventObjectAdd    = "object:add"
	EventObjectUpdate = "object:update"
	EventObjectRemove = "object:remove"
	EventChangeSlide  = "change_slide"
	EventClearBoard   = "clear_board"
	EventCursorMove   = "cursor_move"

	EventLoadSlide    = "load_slide"
	EventCursorUpdate = "cursor_update"
)

var (
	// ErrUnknownEvent is returned for frames whose type is not handled.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedEvent is returned for frames that fail to decode or validate.
	ErrMalformedEvent = errors.New("malformed event")
)

// Frame is the envelope of every message on the socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SlideIndex is a 1-based slide number. Clients send it either as a JSON
// number or as a numeric string.
type SlideIndex int

func (s *SlideIndex) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return fmt.Errorf("slide %q: not an integer", str)
		}
		*s = SlideIndex(n)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("slide: %w", err)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return fmt.Errorf("slide %v: not an integer", f)
	}
	*s = SlideIndex(f)
	return nil
}

type joinPayload struct {
	Room string `json:"room" validate:"required,max=256"`
}

// UnmarshalJSON accepts the bare room name as well as {"room": ...}.
func (p *joinPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &p.Room)
	}
	type plain joinPayload
	return json.Unmarshal(b, (*plain)(p))
}

type objectAddPayload struct {
	Room  string        `json:"room" validate:"required,max=256"`
	Slide SlideIndex    `json:"slide" validate:"gte=1"`
	Data  object.Object `json:"data" validate:"required"`
}

type objectUpdatePayload struct {
	Room  string          `json:"room" validate:"required,max=256"`
	Slide SlideIndex      `json:"slide" validate:"gte=1"`
	ID    json.RawMessage `json:"id" validate:"required"`
	Data  object.Object   `json:"data" validate:"required"`
}

type objectRemovePayload struct {
	Room  string          `json:"room" validate:"required,max=256"`
	Slide SlideIndex      `json:"slide" validate:"gte=1"`
	ID    json.RawMessage `json:"id" validate:"required"`
}

type slidePayload struct {
	Room  string     `json:"room" validate:"required,max=256"`
	Slide SlideIndex `json:"slide" validate:"gte=1"`
}

type cursorPayload struct {
	Room string `json:"room" validate:"required,max=256"`
}

type loadSlide struct {
	Slide   int             `json:"slide"`
	History []object.Object `json:"history"`
}

// encodeFrame builds an outbound frame. data may be nil, a json.RawMessage
// passed through verbatim, or any value to marshal.
func encodeFrame(event string, data interface{}) ([]byte, error) {
	f := Frame{Type: event}
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		f.Data = d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", event, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}
