package world

// Obstacle mirrors the blocking rectangle snapshot exposed to callers.
type Obstacle struct {
	ID     string  `json:"id"`
	Type   string  `json:"type,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

const (
	ObstacleTypeGoldOre = "gold-ore"
	ObstacleTypeLava    = "lava"
)

// PlayerHalf mirrors the actor half-extent used for collision and navigation
// padding.
const PlayerHalf = 14.0
