package handlers

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/object"
)

// MessageRouter routes incoming frames to the room, object and cursor handlers
type MessageRouter struct {
	roomHandler   *RoomHandler
	objectHandler *ObjectHandler
	cursorHandler *CursorHandler
	validate      *validator.Validate
}

func NewMessageRouter(
	rooms Registry,
	broadcaster Broadcaster,
	writeBack WriteBack,
	objects *object.Validator,
	limits *middleware.RateLimit,
) *MessageRouter {
	return &MessageRouter{
		roomHandler:   NewRoomHandler(rooms, broadcaster, writeBack),
		objectHandler: NewObjectHandler(rooms, broadcaster, writeBack, objects, limits),
		cursorHandler: NewCursorHandler(broadcaster),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Route: decode a frame and run its handler. Errors are for the caller's log
// only; nothing is ever written back to the client on failure.
func (mr *MessageRouter) Route(ctx context.Context, c Conn, msg []byte) error {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var err error
	switch f.Type {
	case EventJoinRoom:
		var p joinPayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.roomHandler.HandleJoin(ctx, c, p)
		}
	case EventObjectAdd:
		var p objectAddPayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.objectHandler.HandleAdd(c, p, f.Data)
		}
	case EventObjectUpdate:
		var p objectUpdatePayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.objectHandler.HandleUpdate(c, p, f.Data)
		}
	case EventObjectRemove:
		var p objectRemovePayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.objectHandler.HandleRemove(c, p, f.Data)
		}
	case EventChangeSlide:
		var p slidePayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.roomHandler.HandleChangeSlide(c, p)
		}
	case EventClearBoard:
		var p slidePayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.roomHandler.HandleClearBoard(c, p)
		}
	case EventCursorMove:
		var p cursorPayload
		if err = mr.decode(f, &p); err == nil {
			err = mr.cursorHandler.Handle(c, p, f.Data)
		}
	default:
		metrics.EventsDropped.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}

	metrics.EventsTotal.WithLabelValues(f.Type).Inc()
	return err
}

func (mr *MessageRouter) decode(f Frame, dst interface{}) error {
	if len(f.Data) == 0 {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %s without payload", ErrMalformedEvent, f.Type)
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, f.Type, err)
	}
	if err := mr.validate.Struct(dst); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, f.Type, err)
	}
	return nil
}
