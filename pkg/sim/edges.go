package sim

// EdgeDetector turns a held button into a single press on the frame it goes down.
type EdgeDetector struct {
	last bool
}

// Update returns true only when held changes from false to true.
func (e *EdgeDetector) Update(held bool) bool {
	rising := held && !e.last
	e.last = held
	return rising
}

// Reset forgets the previous button state.
func (e *EdgeDetector) Reset() {
	e.last = false
}
