package handlers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/object"
	"github.com/mattfrayser/whiteboard-backend/internal/room"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
	"github.com/mattfrayser/whiteboard-backend/internal/user"
)

type fakeConn struct {
	u      *user.User
	mu     sync.Mutex
	frames []Frame
	// full makes Send fail as a peer with a full queue would
	full bool
}

func newConn(color string) *fakeConn {
	return &fakeConn{u: user.New(color, user.Limits{})}
}

func (c *fakeConn) ID() string { return c.u.ID }

func (c *fakeConn) User() *user.User { return c.u }

func (c *fakeConn) Close() {}

func (c *fakeConn) Send(msg []byte) bool {
	if c.full {
		return false
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

// take returns and forgets the frames received so far.
func (c *fakeConn) take() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

type countingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	upserts int
}

func (s *countingStore) Upsert(ctx context.Context, doc *store.Document) (*store.Document, error) {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	return s.MemoryStore.Upsert(ctx, doc)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type harness struct {
	store  *countingStore
	rooms  *room.Manager
	hub    *room.Hub
	sched  *room.Scheduler
	router *MessageRouter
}

func newHarness(t *testing.T, debounce time.Duration, limits *middleware.RateLimit, validator *object.Validator) *harness {
	t.Helper()
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	rooms := room.NewManager(st)
	hub := room.NewHub()
	sched := room.NewScheduler(st, rooms, debounce)
	if limits == nil {
		limits = middleware.DefaultRateLimit()
	}
	return &harness{
		store:  st,
		rooms:  rooms,
		hub:    hub,
		sched:  sched,
		router: NewMessageRouter(rooms, hub, sched, validator, limits),
	}
}

func (h *harness) send(t *testing.T, c Conn, event, data string) error {
	t.Helper()
	msg := fmt.Sprintf(`{"type":%q,"data":%s}`, event, data)
	return h.router.Route(context.Background(), c, []byte(msg))
}

func (h *harness) must(t *testing.T, c Conn, event, data string) {
	t.Helper()
	require.NoError(t, h.send(t, c, event, data))
}

func (h *harness) stored(t *testing.T, name string) *store.Document {
	t.Helper()
	require.NoError(t, h.sched.FlushAll(context.Background()))
	doc, err := h.store.Find(context.Background(), name)
	require.NoError(t, err)
	return doc
}

func assertFrame(t *testing.T, f Frame, event, data string) {
	t.Helper()
	assert.Equal(t, event, f.Type)
	if data == "" {
		assert.Empty(t, f.Data)
		return
	}
	assert.JSONEq(t, data, string(f.Data))
}

func TestJoinFreshRoom(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := newConn("")

	h.must(t, a, EventJoinRoom, `"A"`)

	frames := a.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventLoadSlide, `{"slide":1,"history":[]}`)
	assert.Equal(t, []string{a.ID()}, h.hub.Members("A"))
}

func TestJoinSkipsMembershipWhenHistoryNotDelivered(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	a.take()

	b.full = true
	err := h.send(t, b, EventJoinRoom, `"A"`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, []string{a.ID()}, h.hub.Members("A"), "joiner without history is not a member")

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"x1"}}`)
	b.full = false
	assert.Empty(t, b.take())

	h.must(t, b, EventJoinRoom, `"A"`)
	frames := b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventLoadSlide, `{"slide":1,"history":[{"id":"x1"}]}`)
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, h.hub.Members("A"))
}

func TestJoinAcceptsObjectPayload(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := newConn("")

	h.must(t, a, EventJoinRoom, `{"room":"A"}`)
	require.Len(t, a.take(), 1)

	err := h.send(t, a, EventJoinRoom, `{"room":""}`)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestJoinLoadsPersistedRoom(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	var o object.Object
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x1","type":"rect","custom":{"a":1}}`), &o))
	_, err := h.store.MemoryStore.Upsert(context.Background(), &store.Document{
		Name:         "A",
		CurrentSlide: 2,
		Slides:       map[string][]object.Object{"2": {o}},
	})
	require.NoError(t, err)

	a := newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	frames := a.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventLoadSlide, `{"slide":2,"history":[{"id":"x1","type":"rect","custom":{"a":1}}]}`)
}

func TestWhiteboardSession(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil, nil)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	a.take()
	b.take()

	add := `{"room":"A","slide":1,"data":{"id":"x1","type":"rect"}}`
	h.must(t, a, EventObjectAdd, add)

	frames := b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventObjectAdd, add)
	assert.Empty(t, a.take(), "sender gets no echo")

	require.Eventually(t, func() bool {
		doc, err := h.store.Find(context.Background(), "A")
		return err == nil && len(doc.Slides["1"]) == 1
	}, time.Second, 5*time.Millisecond)
	doc := h.stored(t, "A")
	raw, err := json.Marshal(doc.Slides["1"])
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x1","type":"rect"}]`, string(raw))

	update := `{"room":"A","slide":1,"id":"x1","data":{"color":"red"}}`
	h.must(t, a, EventObjectUpdate, update)
	frames = b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventObjectUpdate, update)

	doc = h.stored(t, "A")
	raw, err = json.Marshal(doc.Slides["1"])
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x1","type":"rect","color":"red"}]`, string(raw))

	h.must(t, b, EventChangeSlide, `{"room":"A","slide":2}`)
	for _, c := range []*fakeConn{a, b} {
		frames := c.take()
		require.Len(t, frames, 1)
		assertFrame(t, frames[0], EventLoadSlide, `{"slide":2,"history":[]}`)
	}
	doc = h.stored(t, "A")
	assert.Equal(t, 2, doc.CurrentSlide)

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":2,"data":{"id":"y1"}}`)
	require.Len(t, b.take(), 1)
	h.must(t, a, EventClearBoard, `{"room":"A","slide":1}`)
	for _, c := range []*fakeConn{a, b} {
		frames := c.take()
		require.Len(t, frames, 1)
		assertFrame(t, frames[0], EventClearBoard, "")
	}

	doc = h.stored(t, "A")
	assert.Empty(t, doc.Slides["1"])
	assert.Len(t, doc.Slides["2"], 1, "other slides are untouched")
}

func TestClearBoardReachesEveryone(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	a.take()
	b.take()

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"x1"}}`)
	b.take()
	h.must(t, a, EventClearBoard, `{"room":"A","slide":1}`)

	for _, c := range []*fakeConn{a, b} {
		frames := c.take()
		require.Len(t, frames, 1)
		assertFrame(t, frames[0], EventClearBoard, "")
	}
	assert.Empty(t, h.stored(t, "A").Slides["1"])
}

func TestFanOutExclusion(t *testing.T) {
	tests := []struct {
		event      string
		data       string
		senderEcho bool
	}{
		{EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"n"}}`, false},
		{EventObjectUpdate, `{"room":"A","slide":1,"id":"n","data":{"x":1}}`, false},
		{EventObjectRemove, `{"room":"A","slide":1,"id":"n"}`, false},
		{EventCursorMove, `{"room":"A","x":10,"y":20}`, false},
		{EventChangeSlide, `{"room":"A","slide":3}`, true},
		{EventClearBoard, `{"room":"A","slide":1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			h := newHarness(t, time.Hour, nil, nil)
			a, b := newConn(""), newConn("")
			h.must(t, a, EventJoinRoom, `"A"`)
			h.must(t, b, EventJoinRoom, `"A"`)
			a.take()
			b.take()

			h.must(t, a, tt.event, tt.data)

			assert.Len(t, b.take(), 1)
			if tt.senderEcho {
				assert.Len(t, a.take(), 1)
			} else {
				assert.Empty(t, a.take())
			}
		})
	}
}

func TestUpdateUnknownObjectIsNoop(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	b.take()

	h.must(t, a, EventObjectUpdate, `{"room":"A","slide":1,"id":"ghost","data":{"x":1}}`)
	h.must(t, a, EventObjectUpdate, `{"room":"A","slide":7,"id":"ghost","data":{"x":1}}`)

	assert.Len(t, b.take(), 2, "relayed regardless")
	assert.Equal(t, 0, h.sched.Pending(), "nothing changed, nothing scheduled")

	doc, _ := h.rooms.Snapshot("A")
	assert.NotContains(t, doc.Slides, "7")
}

func TestEventsForUnloadedRoom(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a, b := newConn(""), newConn("")
	// membership without resident state
	h.hub.Join("B", a)
	h.hub.Join("B", b)

	h.must(t, a, EventObjectAdd, `{"room":"B","slide":1,"data":{"id":"x"}}`)
	h.must(t, a, EventClearBoard, `{"room":"B","slide":1}`)
	h.must(t, a, EventChangeSlide, `{"room":"B","slide":2}`)

	frames := b.take()
	require.Len(t, frames, 2, "add and clear are relayed, change_slide needs the room")
	assert.Equal(t, EventObjectAdd, frames[0].Type)
	assert.Equal(t, EventClearBoard, frames[1].Type)

	_, ok := h.rooms.Get("B")
	assert.False(t, ok, "events never load a room")
	assert.Equal(t, 0, h.sched.Pending())
}

func TestSlideIndexForms(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":"2","data":{"id":"s"}}`)
	h.must(t, a, EventObjectAdd, `{"room":"A","slide":2.0,"data":{"id":"n"}}`)

	doc, _ := h.rooms.Snapshot("A")
	assert.Len(t, doc.Slides["2"], 2)

	for _, bad := range []string{`0`, `-1`, `1.5`, `"two"`, `null`, `{}`} {
		err := h.send(t, a, EventObjectAdd, fmt.Sprintf(`{"room":"A","slide":%s,"data":{"id":"x"}}`, bad))
		assert.ErrorIs(t, err, ErrMalformedEvent, "slide %s", bad)
	}
}

func TestRouteErrors(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := newConn("")

	err := h.router.Route(context.Background(), a, []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = h.send(t, a, "getUserId", `{}`)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	err = h.router.Route(context.Background(), a, []byte(`{"type":"object:add"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = h.send(t, a, EventObjectAdd, `{"room":"A","slide":1}`)
	assert.ErrorIs(t, err, ErrMalformedEvent, "data is required")

	err = h.send(t, a, EventObjectRemove, `{"room":"A","slide":1,"id":{"nested":true}}`)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestIDsMatchByValue(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":7}}`)
	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"7"}}`)
	h.must(t, a, EventObjectRemove, `{"room":"A","slide":1,"id":7.0}`)

	doc, _ := h.rooms.Snapshot("A")
	require.Len(t, doc.Slides["1"], 1)
	assert.JSONEq(t, `"7"`, string(doc.Slides["1"][0]["id"]))
}

func TestCursorMove(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a, b := newConn("#112233"), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	b.take()

	h.must(t, a, EventCursorMove, `{"room":"A","x":1,"y":2}`)
	frames := b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventCursorUpdate,
		fmt.Sprintf(`{"room":"A","x":1,"y":2,"userId":%q,"color":"#112233"}`, a.ID()))

	h.must(t, a, EventCursorMove, `{"room":"A","userId":"custom","color":"blue"}`)
	frames = b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventCursorUpdate, `{"room":"A","userId":"custom","color":"blue"}`)

	assert.Equal(t, 0, h.sched.Pending(), "cursors are never persisted")
}

func TestCursorThrottle(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	a := &fakeConn{u: user.New("", user.Limits{CursorInterval: time.Hour})}
	b := newConn("")
	h.hub.Join("A", a)
	h.hub.Join("A", b)

	h.must(t, a, EventCursorMove, `{"room":"A","x":1}`)
	h.must(t, a, EventCursorMove, `{"room":"A","x":2}`)
	assert.Len(t, b.take(), 1)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, nil, nil)
	a := newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)

	for i := 0; i < 20; i++ {
		h.must(t, a, EventObjectAdd, fmt.Sprintf(`{"room":"A","slide":1,"data":{"id":"o%d"}}`, i))
	}
	h.must(t, a, EventObjectUpdate, `{"room":"A","slide":1,"id":"o0","data":{"last":true}}`)

	require.Eventually(t, func() bool { return h.store.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.store.count())

	doc, err := h.store.Find(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, doc.Slides["1"], 20)
	assert.JSONEq(t, `true`, string(doc.Slides["1"][0]["last"]))
}

func TestCrossRoomIsolation(t *testing.T) {
	h := newHarness(t, time.Hour, nil, nil)
	names := []string{"A", "B", "C"}

	var wg sync.WaitGroup
	for _, name := range names {
		c := newConn("")
		h.must(t, c, EventJoinRoom, fmt.Sprintf("%q", name))
		wg.Add(1)
		go func(name string, c *fakeConn) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				data := fmt.Sprintf(`{"room":%q,"slide":1,"data":{"id":"%s-%d"}}`, name, name, i)
				_ = h.router.Route(context.Background(), c, []byte(fmt.Sprintf(`{"type":"object:add","data":%s}`, data)))
				if i%3 == 0 {
					data = fmt.Sprintf(`{"room":%q,"slide":1,"id":"%s-%d"}`, name, name, i)
					_ = h.router.Route(context.Background(), c, []byte(fmt.Sprintf(`{"type":"object:remove","data":%s}`, data)))
				}
			}
		}(name, c)
	}
	wg.Wait()

	for _, name := range names {
		doc := h.stored(t, name)
		require.Len(t, doc.Slides["1"], 66)
		for _, o := range doc.Slides["1"] {
			var id string
			require.NoError(t, json.Unmarshal(o["id"], &id))
			assert.Equal(t, name, id[:1])
		}
	}
}

func TestSlideFull(t *testing.T) {
	limits := middleware.DefaultRateLimit()
	limits.MaxObjectsPerSlide = 1
	h := newHarness(t, time.Hour, limits, nil)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	b.take()

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"1"}}`)
	err := h.send(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"2"}}`)
	assert.Error(t, err)
	assert.Len(t, b.take(), 1, "rejected adds are not relayed")

	doc := h.stored(t, "A")
	require.Len(t, doc.Slides["1"], 1)
	assert.JSONEq(t, `"1"`, string(doc.Slides["1"][0]["id"]))
}

func TestValidatorRejectsAndSanitizes(t *testing.T) {
	v := object.NewValidator(object.Limits{MaxDepth: 2, MaxElements: 10}, true)
	h := newHarness(t, time.Hour, nil, v)
	a, b := newConn(""), newConn("")
	h.must(t, a, EventJoinRoom, `"A"`)
	h.must(t, b, EventJoinRoom, `"A"`)
	b.take()

	err := h.send(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"x","a":{"b":{"c":1}}}}`)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Empty(t, b.take())

	h.must(t, a, EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"x","text":"<b>hi</b>"}}`)
	frames := b.take()
	require.Len(t, frames, 1)
	assertFrame(t, frames[0], EventObjectAdd, `{"room":"A","slide":1,"data":{"id":"x","text":"hi"}}`)

	doc, _ := h.rooms.Snapshot("A")
	require.Len(t, doc.Slides["1"], 1)
	assert.JSONEq(t, `"hi"`, string(doc.Slides["1"][0]["text"]))
}
