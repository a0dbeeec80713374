package server

import "math"

const (
	ratWanderSpeed       = 0.45
	ratFleeSpeed         = 1.0
	ratFleeRadius        = 140.0
	ratFleeDurationTicks = 60
	ratArriveRadius      = 12.0
	ratWanderRadius      = 200.0
	ratWanderDecisionMin = 20
	ratWanderDecisionMax = 60
)

// closestRatThreat returns the vector away from the nearest living non-rat
// actor within the flee radius.
func (w *World) closestRatThreat(npc *npcState, radius float64) (vec2, bool) {
	if w == nil || npc == nil {
		return vec2{}, false
	}
	if radius <= 0 {
		radius = ratFleeRadius
	}
	bestDistSq := radius * radius
	found := false
	best := vec2{}

	for _, player := range w.players {
		if player == nil || player.Health <= 0 {
			continue
		}
		dx := npc.X - player.X
		dy := npc.Y - player.Y
		distSq := dx*dx + dy*dy
		if distSq < bestDistSq {
			bestDistSq = distSq
			best = vec2{X: dx, Y: dy}
			found = true
		}
	}

	for _, other := range w.npcs {
		if other == nil || other.ID == npc.ID || other.Type == NPCTypeRat || other.Health <= 0 {
			continue
		}
		dx := npc.X - other.X
		dy := npc.Y - other.Y
		distSq := dx*dx + dy*dy
		if distSq < bestDistSq {
			bestDistSq = distSq
			best = vec2{X: dx, Y: dy}
			found = true
		}
	}

	return best, found
}

func (w *World) randomWanderTarget(npc *npcState, radius, minRadius float64) vec2 {
	rng := w.ensureRNG()
	if rng == nil {
		return vec2{X: npc.X, Y: npc.Y}
	}
	if radius <= 0 {
		radius = ratWanderRadius
	}
	base := npc.wanderOrigin
	if base.X == 0 && base.Y == 0 {
		base = vec2{X: npc.X, Y: npc.Y}
	}
	angle := rng.Float64() * 2 * math.Pi
	dist := radius * math.Sqrt(rng.Float64())
	if dist < minRadius {
		dist = minRadius
	}
	targetX := clamp(base.X+math.Cos(angle)*dist, playerHalf, worldWidth-playerHalf)
	targetY := clamp(base.Y+math.Sin(angle)*dist, playerHalf, worldHeight-playerHalf)
	return vec2{X: targetX, Y: targetY}
}

func (w *World) randomWanderInterval(min, max uint64) uint64 {
	if max <= min {
		return min
	}
	rng := w.ensureRNG()
	if rng == nil {
		return min
	}
	span := max - min
	if span > 0x7fffffff {
		span = 0x7fffffff
	}
	return min + uint64(rng.Intn(int(span)+1))
}

func (w *World) randomUnitVector() vec2 {
	rng := w.ensureRNG()
	if rng == nil {
		return vec2{X: 1, Y: 0}
	}
	angle := rng.Float64() * 2 * math.Pi
	return vec2{X: math.Cos(angle), Y: math.Sin(angle)}
}

func normalizeVector(v vec2) (float64, float64) {
	length := math.Hypot(v.X, v.Y)
	if length == 0 {
		return 0, 0
	}
	return v.X / length, v.Y / length
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x1-x2, y1-y2)
}
