package server

import "time"

// NPCType enumerates the available neutral enemy archetypes.
type NPCType string

const (
	NPCTypeGoblin NPCType = "goblin"
	NPCTypeRat    NPCType = "rat"
)

// NPC describes an AI-controlled entity mirrored to the client.
type NPC struct {
	Actor
	Type             NPCType `json:"type"`
	AIControlled     bool    `json:"aiControlled"`
	ExperienceReward int     `json:"experienceReward"`
}

type npcState struct {
	actorState
	Type             NPCType
	ExperienceReward int

	AIConfigID uint16
	AIState    uint8
	Blackboard npcBlackboard
	Home       vec2
	Waypoints  []vec2

	wanderOrigin   vec2
	wanderTarget   vec2
	nextWanderTick uint64
	fleeVector     vec2
	fleeUntilTick  uint64

	cooldowns map[string]time.Time
	version   uint64
}

func (s *npcState) snapshot() NPC {
	return NPC{
		Actor:            s.snapshotActor(),
		Type:             s.Type,
		AIControlled:     true,
		ExperienceReward: s.ExperienceReward,
	}
}
