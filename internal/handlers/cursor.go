package handlers

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
)

// CursorHandler relays cursor moves. Cursors never touch room state.
type CursorHandler struct {
	broadcaster Broadcaster
	now         func() time.Time
}

func NewCursorHandler(broadcaster Broadcaster) *CursorHandler {
	return &CursorHandler{
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Handle forwards the payload to the other members as cursor_update, adding
// the sender's userId and color unless the payload already carries them.
func (h *CursorHandler) Handle(c Conn, p cursorPayload, raw json.RawMessage) error {
	u := c.User()
	if !u.AllowCursor(h.now()) {
		metrics.EventsDropped.WithLabelValues("throttled").Inc()
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: cursor payload: %v", ErrMalformedEvent, err)
	}

	changed := false
	if _, ok := payload["userId"]; !ok {
		payload["userId"] = quote(u.ID)
		changed = true
	}
	if _, ok := payload["color"]; !ok && u.Color != "" {
		payload["color"] = quote(u.Color)
		changed = true
	}
	if changed {
		out, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal cursor payload: %w", err)
		}
		raw = out
	}

	msg, err := encodeFrame(EventCursorUpdate, raw)
	if err != nil {
		return err
	}
	h.broadcaster.BroadcastOthers(p.Room, msg, c)
	return nil
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
