package user

import (
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

const goldenRatio = 0.618033988749895

// ColorGenerator hands out cursor colours spread around the hue wheel by
// stepping the golden ratio.
type ColorGenerator struct {
	next       int
	saturation float64
	lightness  float64
	mu         sync.Mutex
}

func NewColorGenerator() *ColorGenerator {
	return &ColorGenerator{saturation: 0.85, lightness: 0.55}
}

// Next: hex colour for the next connection
func (cg *ColorGenerator) Next() string {
	cg.mu.Lock()
	n := cg.next
	cg.next++
	cg.mu.Unlock()

	return ColorAt(n, cg.saturation, cg.lightness)
}

// ColorAt is the n-th colour of the sequence.
func ColorAt(n int, saturation, lightness float64) string {
	_, hue := math.Modf(float64(n) * goldenRatio)
	return colorful.Hsl(hue*360, saturation, lightness).Hex()
}
