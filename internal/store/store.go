// Package store persists room documents keyed by room name.
package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/mattfrayser/whiteboard-backend/internal/object"
)

var (
	// ErrNotFound is returned by Find when no document exists for the name.
	ErrNotFound = errors.New("room not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Document is the persisted shape of a room.
type Document struct {
	Name         string                     `json:"name"`
	CurrentSlide int                        `json:"currentSlide"`
	Slides       map[string][]object.Object `json:"slides"`
}

// Store is a key-value document store addressed by room name.
type Store interface {
	// Find returns ErrNotFound when the room was never persisted.
	Find(ctx context.Context, name string) (*Document, error)
	// Upsert overwrites currentSlide and slides, creating the document if absent.
	Upsert(ctx context.Context, doc *Document) (*Document, error)
	Close() error
}

// SlideKey: map key used for a slide index
func SlideKey(slide int) string {
	return strconv.Itoa(slide)
}

// Clone deep copies a document.
func (d *Document) Clone() *Document {
	c := &Document{
		Name:         d.Name,
		CurrentSlide: d.CurrentSlide,
		Slides:       make(map[string][]object.Object, len(d.Slides)),
	}
	for k, list := range d.Slides {
		c.Slides[k] = object.CloneList(list)
	}
	return c
}
