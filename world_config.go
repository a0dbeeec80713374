package server

const defaultWorldSeed = "prototype-world"

// worldConfig captures the knobs used when generating a world.
type worldConfig struct {
	Obstacles      bool    `json:"obstacles"`
	ObstaclesCount int     `json:"obstaclesCount"`
	GoldMines      bool    `json:"goldMines"`
	GoldMineCount  int     `json:"goldMineCount"`
	NPCs           bool    `json:"npcs"`
	NPCCount       int     `json:"npcCount"`
	GoblinCount    int     `json:"goblinCount"`
	RatCount       int     `json:"ratCount"`
	Lava           bool    `json:"lava"`
	LavaCount      int     `json:"lavaCount"`
	Seed           string  `json:"seed"`
	Width          float64 `json:"width,omitempty"`
	Height         float64 `json:"height,omitempty"`

	// EffectCatalog rides along on keyframes and resync payloads so a client
	// rebuilding from scratch also receives the effect metadata it renders
	// with. It is not a generation knob and is ignored by normalized().
	EffectCatalog map[string]effectCatalogMetadata `json:"effectCatalog,omitempty"`
}

// cloneEffectCatalogSnapshot deep-copies a catalog snapshot so journaled
// keyframes and outgoing responses never share definition pointers.
func cloneEffectCatalogSnapshot(src map[string]effectCatalogMetadata) map[string]effectCatalogMetadata {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]effectCatalogMetadata, len(src))
	for id, meta := range src {
		dst[id] = meta.clone()
	}
	return dst
}

// defaultWorldConfig enables every world feature with the standard counts.
func defaultWorldConfig() worldConfig {
	return worldConfig{
		Obstacles:      true,
		ObstaclesCount: defaultObstacleCount,
		GoldMines:      true,
		GoldMineCount:  defaultGoldMineCount,
		NPCs:           true,
		NPCCount:       defaultNPCCount,
		GoblinCount:    defaultGoblinCount,
		RatCount:       defaultRatCount,
		Lava:           true,
		LavaCount:      defaultLavaCount,
		Seed:           defaultWorldSeed,
	}
}

// normalized clamps counts, fills fallback values, and reconciles the
// aggregate NPC count with the per-species counts. A caller that only sets
// NPCCount keeps it; species counts, when present, are authoritative.
func (cfg worldConfig) normalized() worldConfig {
	out := cfg

	if out.Seed == "" {
		out.Seed = defaultWorldSeed
	}
	if out.Width < 0 {
		out.Width = 0
	}
	if out.Height < 0 {
		out.Height = 0
	}

	if out.ObstaclesCount < 0 {
		out.ObstaclesCount = 0
	}
	if out.Obstacles && out.ObstaclesCount == 0 {
		out.ObstaclesCount = defaultObstacleCount
	}

	if out.GoldMineCount < 0 {
		out.GoldMineCount = 0
	}
	if out.GoldMines && out.GoldMineCount == 0 {
		out.GoldMineCount = defaultGoldMineCount
	}

	if out.LavaCount < 0 {
		out.LavaCount = 0
	}
	if out.Lava && out.LavaCount == 0 {
		out.LavaCount = defaultLavaCount
	}

	if out.GoblinCount < 0 {
		out.GoblinCount = 0
	}
	if out.RatCount < 0 {
		out.RatCount = 0
	}
	if species := out.GoblinCount + out.RatCount; species > 0 {
		out.NPCCount = species
	} else if out.NPCCount < 0 {
		out.NPCCount = 0
	}

	return out
}
