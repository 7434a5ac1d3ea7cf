package handlers

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/object"
	"github.com/mattfrayser/whiteboard-backend/internal/room"
)

// ObjectHandler: handles object events (add, update, remove)
type ObjectHandler struct {
	rooms       Registry
	broadcaster Broadcaster
	writeBack   WriteBack
	validator   *object.Validator
	config      *middleware.RateLimit
}

func NewObjectHandler(rooms Registry, broadcaster Broadcaster, writeBack WriteBack, validator *object.Validator, config *middleware.RateLimit) *ObjectHandler {
	if config == nil {
		config = middleware.DefaultRateLimit()
	}
	return &ObjectHandler{
		rooms:       rooms,
		broadcaster: broadcaster,
		writeBack:   writeBack,
		validator:   validator,
		config:      config,
	}
}

// HandleAdd relays the add to the other members and appends the object to
// the slide when the room is resident.
func (h *ObjectHandler) HandleAdd(c Conn, p objectAddPayload, raw json.RawMessage) error {
	data, raw, err := h.check(p.Data, raw)
	if err != nil {
		return err
	}
	msg, err := encodeFrame(EventObjectAdd, raw)
	if err != nil {
		return err
	}

	rm, ok := h.rooms.Get(p.Room)
	if !ok {
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		return nil
	}

	slide := int(p.Slide)
	full := false
	rm.Do(func(st *room.State) {
		list, _ := st.Slide(slide)
		if !h.config.CanAddObject(len(list)) {
			full = true
			return
		}
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		st.Append(slide, data)
		h.writeBack.Schedule(p.Room)
	})
	if full {
		metrics.EventsDropped.WithLabelValues("slide_full").Inc()
		return fmt.Errorf("slide %d of %s is full", slide, p.Room)
	}
	return nil
}

// HandleUpdate relays the partial update as sent and merges it into the
// matching object. Peers apply the same shallow merge locally.
func (h *ObjectHandler) HandleUpdate(c Conn, p objectUpdatePayload, raw json.RawMessage) error {
	id, ok := object.CanonicalID(p.ID)
	if !ok {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: invalid object id %s", ErrMalformedEvent, p.ID)
	}
	patch, raw, err := h.check(p.Data, raw)
	if err != nil {
		return err
	}
	msg, err := encodeFrame(EventObjectUpdate, raw)
	if err != nil {
		return err
	}

	rm, ok := h.rooms.Get(p.Room)
	if !ok {
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		return nil
	}

	rm.Do(func(st *room.State) {
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		if st.Update(int(p.Slide), id, patch) {
			h.writeBack.Schedule(p.Room)
		}
	})
	return nil
}

// HandleRemove relays the removal and filters the object out of the slide.
func (h *ObjectHandler) HandleRemove(c Conn, p objectRemovePayload, raw json.RawMessage) error {
	id, ok := object.CanonicalID(p.ID)
	if !ok {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: invalid object id %s", ErrMalformedEvent, p.ID)
	}
	msg, err := encodeFrame(EventObjectRemove, raw)
	if err != nil {
		return err
	}

	rm, ok := h.rooms.Get(p.Room)
	if !ok {
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		return nil
	}

	rm.Do(func(st *room.State) {
		h.broadcaster.BroadcastOthers(p.Room, msg, c)
		if st.Remove(int(p.Slide), id) {
			h.writeBack.Schedule(p.Room)
		}
	})
	return nil
}

// check validates the object attributes. When the validator rewrites them,
// the payload to relay is re-encoded with the cleaned data so peers and the
// room hold the same object.
func (h *ObjectHandler) check(data object.Object, raw json.RawMessage) (object.Object, json.RawMessage, error) {
	if h.validator == nil {
		return data, raw, nil
	}
	clean, err := h.validator.Check(data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !h.validator.Sanitizing() {
		return clean, raw, nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	cleanRaw, err := json.Marshal(clean)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sanitized object: %w", err)
	}
	payload["data"] = cleanRaw
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sanitized payload: %w", err)
	}
	return clean, out, nil
}
