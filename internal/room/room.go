package room

import (
	"sync"

	"github.com/mattfrayser/whiteboard-backend/internal/object"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

// State is a room's slide set. It is not safe for concurrent use; callers
// reach it through Room.Do.
type State struct {
	CurrentSlide int
	Slides       map[string][]object.Object
}

// NewState: fresh room, slide 1 selected and empty
func NewState() *State {
	return &State{
		CurrentSlide: 1,
		Slides:       map[string][]object.Object{store.SlideKey(1): {}},
	}
}

// stateFromDocument adopts a persisted document verbatim. A document without
// slides gets slide 1.
func stateFromDocument(doc *store.Document) *State {
	st := &State{CurrentSlide: doc.CurrentSlide}
	if st.CurrentSlide < 1 {
		st.CurrentSlide = 1
	}
	if len(doc.Slides) == 0 {
		st.Slides = map[string][]object.Object{store.SlideKey(1): {}}
		return st
	}
	st.Slides = make(map[string][]object.Object, len(doc.Slides))
	for k, list := range doc.Slides {
		st.Slides[k] = object.CloneList(list)
	}
	return st
}

// EnsureSlide returns the slide's list, creating an empty one if needed.
func (s *State) EnsureSlide(slide int) []object.Object {
	key := store.SlideKey(slide)
	list, ok := s.Slides[key]
	if !ok || list == nil {
		list = []object.Object{}
		s.Slides[key] = list
	}
	return list
}

// Slide returns the slide's list and whether it exists.
func (s *State) Slide(slide int) ([]object.Object, bool) {
	list, ok := s.Slides[store.SlideKey(slide)]
	return list, ok && list != nil
}

// Append adds obj at the top of the slide.
func (s *State) Append(slide int, obj object.Object) {
	list := s.EnsureSlide(slide)
	s.Slides[store.SlideKey(slide)] = append(list, obj)
}

// Update merges patch into the first object on the slide whose id matches.
// Reports false when the slide or the object does not exist.
func (s *State) Update(slide int, id string, patch object.Object) bool {
	list, ok := s.Slide(slide)
	if !ok {
		return false
	}
	for i, obj := range list {
		if objID, ok := obj.ID(); ok && objID == id {
			list[i] = obj.Merge(patch)
			return true
		}
	}
	return false
}

// Remove filters every object with the id out of the slide. Reports whether
// the slide exists.
func (s *State) Remove(slide int, id string) bool {
	list, ok := s.Slide(slide)
	if !ok {
		return false
	}
	kept := make([]object.Object, 0, len(list))
	for _, obj := range list {
		if objID, ok := obj.ID(); ok && objID == id {
			continue
		}
		kept = append(kept, obj)
	}
	s.Slides[store.SlideKey(slide)] = kept
	return true
}

// Clear empties one slide, creating it if it was never referenced.
func (s *State) Clear(slide int) {
	s.Slides[store.SlideKey(slide)] = []object.Object{}
}

// SetSlide moves the room to slide and returns that slide's list.
func (s *State) SetSlide(slide int) []object.Object {
	s.CurrentSlide = slide
	return s.EnsureSlide(slide)
}

// Document: deep snapshot of the state, safe to use after the lock is released
func (s *State) Document(name string) *store.Document {
	doc := &store.Document{
		Name:         name,
		CurrentSlide: s.CurrentSlide,
		Slides:       make(map[string][]object.Object, len(s.Slides)),
	}
	for k, list := range s.Slides {
		doc.Slides[k] = object.CloneList(list)
	}
	return doc
}

// Room is one named whiteboard session. All reads and writes of its state go
// through Do, which runs them one at a time.
type Room struct {
	name  string
	state *State
	mu    sync.Mutex
}

func newRoom(name string, state *State) *Room {
	return &Room{name: name, state: state}
}

func (r *Room) Name() string {
	return r.name
}

// Do runs fn with exclusive access to the room's state. fn must not retain
// the state or call Do on the same room.
func (r *Room) Do(fn func(st *State)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r.state)
}

// Snapshot returns a deep copy of the room as a store document.
func (r *Room) Snapshot() *store.Document {
	var doc *store.Document
	r.Do(func(st *State) {
		doc = st.Document(r.name)
	})
	return doc
}
