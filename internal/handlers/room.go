package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/room"
)

// RoomHandler handles joining and slide-level events
type RoomHandler struct {
	rooms       Registry
	broadcaster Broadcaster
	writeBack   WriteBack
	log         zerolog.Logger
}

func NewRoomHandler(rooms Registry, broadcaster Broadcaster, writeBack WriteBack) *RoomHandler {
	return &RoomHandler{
		rooms:       rooms,
		broadcaster: broadcaster,
		writeBack:   writeBack,
		log:         logging.WithComponent("sync"),
	}
}

// HandleJoin loads the room if needed and sends the current slide to the
// joiner only. Membership starts after that reply, under the room lock, so
// the joiner sees every later change exactly once on top of the history.
func (h *RoomHandler) HandleJoin(ctx context.Context, c Conn, p joinPayload) error {
	rm := h.rooms.GetOrLoad(ctx, p.Room)

	var err error
	rm.Do(func(st *room.State) {
		slide := st.CurrentSlide
		var msg []byte
		msg, err = encodeFrame(EventLoadSlide, loadSlide{Slide: slide, History: st.EnsureSlide(slide)})
		if err != nil {
			return
		}
		if !c.Send(msg) {
			// a member without the history would apply deltas to nothing
			err = fmt.Errorf("join %s: history not delivered to %s", p.Room, c.ID())
			return
		}
		h.broadcaster.Join(p.Room, c)
	})
	if err != nil {
		metrics.EventsDropped.WithLabelValues("undelivered").Inc()
		return err
	}

	h.log.Debug().Str("room", p.Room).Str("user", c.ID()).Msg("joined room")
	return nil
}

// HandleChangeSlide moves the whole room to another slide and sends that
// slide to every member, requester included.
func (h *RoomHandler) HandleChangeSlide(c Conn, p slidePayload) error {
	rm, ok := h.rooms.Get(p.Room)
	if !ok {
		metrics.EventsDropped.WithLabelValues("room_not_loaded").Inc()
		return nil
	}

	var err error
	rm.Do(func(st *room.State) {
		slide := int(p.Slide)
		var msg []byte
		msg, err = encodeFrame(EventLoadSlide, loadSlide{Slide: slide, History: st.SetSlide(slide)})
		if err != nil {
			return
		}
		h.broadcaster.BroadcastAll(p.Room, msg)
		h.writeBack.Schedule(p.Room)
	})
	return err
}

// HandleClearBoard empties one slide. The clear is sent to every member even
// when the room is not resident.
func (h *RoomHandler) HandleClearBoard(c Conn, p slidePayload) error {
	msg, err := encodeFrame(EventClearBoard, nil)
	if err != nil {
		return fmt.Errorf("encode clear: %w", err)
	}

	rm, ok := h.rooms.Get(p.Room)
	if !ok {
		h.broadcaster.BroadcastAll(p.Room, msg)
		return nil
	}

	rm.Do(func(st *room.State) {
		h.broadcaster.BroadcastAll(p.Room, msg)
		st.Clear(int(p.Slide))
		h.writeBack.Schedule(p.Room)
	})
	return nil
}
