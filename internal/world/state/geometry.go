package state

// Vec2 represents a 2D point used across player and NPC state.
type Vec2 struct {
	X float64
	Y float64
}
