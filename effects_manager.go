package server

import (
	"fmt"
	stdlog "log"
	"sort"
	"time"

	effectcatalog "rift-and-ruin/server/effects/catalog"
	effectcontract "rift-and-ruin/server/effects/contract"
)

// effectHookSet bundles the gameplay callbacks a definition can bind to.
// Hooks run inside the tick, after transitions and before replication.
type effectHookSet struct {
	OnSpawn  func(m *EffectManager, instance *EffectInstance, tick Tick, now time.Time)
	OnTick   func(m *EffectManager, instance *EffectInstance, tick Tick, now time.Time)
	OnExpire func(m *EffectManager, instance *EffectInstance, tick Tick, now time.Time)
}

// EffectManager owns the contract-driven effect pipeline: definitions keyed by
// type, live instances, staged intents, and the monotonically increasing
// lifecycle sequence shared by every emitted event.
type EffectManager struct {
	world   *World
	catalog *effectcatalog.Resolver

	definitions map[string]*EffectDefinition
	hooks       map[string]effectHookSet
	instances   map[string]*EffectInstance
	intentQueue []EffectIntent

	nextInstanceID    uint64
	nextSeq           Seq
	lastTickProcessed Tick
	totalEnqueued     int
	totalDrained      int
}

func newEffectManager(world *World) *EffectManager {
	m := &EffectManager{
		world:       world,
		definitions: make(map[string]*EffectDefinition),
		hooks:       make(map[string]effectHookSet),
		instances:   make(map[string]*EffectInstance),
		intentQueue: make([]EffectIntent, 0),
	}
	for id, def := range effectcontract.BuiltInDefinitions() {
		m.definitions[id] = def
	}
	resolver, err := effectcatalog.Load(effectcontract.BuiltInRegistry, effectcatalog.DefaultPaths()...)
	if err != nil {
		stdlog.Printf("effect catalog unavailable, using built-in definitions: %v", err)
		return m
	}
	m.catalog = resolver
	// Designer-authored entries override the compiled-in defaults. Entries are
	// keyed by catalog id; the contract TypeID stays resolvable for legacy
	// intents that only carry a type.
	for id, entry := range resolver.Entries() {
		if entry.Definition == nil {
			continue
		}
		def := *entry.Definition
		m.definitions[id] = &def
		if def.TypeID != "" && def.TypeID != id {
			m.definitions[def.TypeID] = &def
		}
	}
	return m
}

// EnqueueIntent stages an EffectIntent for the next RunTick.
func (m *EffectManager) EnqueueIntent(intent EffectIntent) {
	if m == nil {
		return
	}
	m.intentQueue = append(m.intentQueue, intent)
	m.totalEnqueued++
}

func (m *EffectManager) allocateSeq() Seq {
	m.nextSeq++
	return m.nextSeq
}

func (m *EffectManager) definitionFor(intent EffectIntent) (*EffectDefinition, string) {
	key := intent.EntryID
	if key == "" {
		key = intent.TypeID
	}
	if key == "" {
		return nil, ""
	}
	if def, ok := m.definitions[key]; ok && def != nil {
		return def, key
	}
	if intent.TypeID != "" && intent.TypeID != key {
		if def, ok := m.definitions[intent.TypeID]; ok && def != nil {
			return def, key
		}
	}
	return nil, key
}

func (m *EffectManager) spawnFromIntent(intent EffectIntent, tick Tick, now time.Time, emit func(EffectLifecycleEvent)) {
	def, entryKey := m.definitionFor(intent)
	if def == nil {
		return
	}

	follow := FollowNone
	attached := ""
	if def.Delivery == DeliveryKindTarget && intent.TargetActorID != "" {
		follow = FollowTarget
		attached = intent.TargetActorID
	}

	m.nextInstanceID++
	instance := &EffectInstance{
		ID:           fmt.Sprintf("contract-effect-%d", m.nextInstanceID),
		EntryID:      intent.EntryID,
		DefinitionID: def.TypeID,
		Definition:   def,
		OwnerActorID: intent.SourceActorID,
		StartTick:    tick,
		Params:       cloneIntParams(intent.Params),
		DeliveryState: EffectDeliveryState{
			Geometry:        intent.Geometry,
			AttachedActorID: attached,
			Follow:          follow,
		},
		BehaviorState: EffectBehaviorState{
			TicksRemaining: def.LifetimeTicks,
			TickCadence:    intent.TickCadence,
		},
		FollowActorID: attached,
		Replication:   def.Client,
		End:           def.End,
	}
	if instance.BehaviorState.TicksRemaining == 0 && intent.DurationTicks > 0 {
		instance.BehaviorState.TicksRemaining = intent.DurationTicks
	}
	_ = entryKey

	m.instances[instance.ID] = instance

	if hooks, ok := m.hooks[def.Hooks.OnSpawn]; ok && hooks.OnSpawn != nil {
		hooks.OnSpawn(m, instance, tick, now)
	}

	if emit != nil && instance.Replication.SendSpawn {
		emit(EffectSpawnEvent{Tick: tick, Seq: m.allocateSeq(), Instance: *instance})
	}
}

func (m *EffectManager) cadenceFor(instance *EffectInstance) int {
	cadence := instance.BehaviorState.TickCadence
	if cadence <= 0 {
		cadence = 1
	}
	return cadence
}

// RunTick drains staged intents, advances every live instance, and emits
// lifecycle events through the optional emitter. A nil emitter still advances
// simulation state so offline ticks never stall effects.
func (m *EffectManager) RunTick(tick Tick, now time.Time, emit func(EffectLifecycleEvent)) {
	if m == nil {
		return
	}
	m.lastTickProcessed = tick

	if len(m.intentQueue) > 0 {
		staged := m.intentQueue
		m.intentQueue = m.intentQueue[:0]
		m.totalDrained += len(staged)
		for _, intent := range staged {
			m.spawnFromIntent(intent, tick, now, emit)
		}
	}

	if len(m.instances) == 0 {
		return
	}

	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		instance := m.instances[id]
		if instance == nil {
			delete(m.instances, id)
			continue
		}
		def := instance.Definition

		if int64(tick)%int64(m.cadenceFor(instance)) == 0 {
			if def != nil {
				if hooks, ok := m.hooks[def.Hooks.OnTick]; ok && hooks.OnTick != nil {
					hooks.OnTick(m, instance, tick, now)
				}
			}
			if emit != nil && instance.Replication.SendUpdates {
				delivery := instance.DeliveryState
				behavior := instance.BehaviorState
				emit(EffectUpdateEvent{
					Tick:          tick,
					Seq:           m.allocateSeq(),
					ID:            instance.ID,
					DeliveryState: &delivery,
					BehaviorState: &behavior,
					Params:        cloneIntParams(instance.Params),
				})
			}
		}

		if def == nil {
			continue
		}
		if def.End.Kind == EndCondition {
			if def.End.Conditions.OnOwnerLost && instance.OwnerActorID != "" && !m.ownerAlive(instance.OwnerActorID) {
				m.endInstance(instance, tick, now, EndReasonOwnerLost, emit)
			}
			continue
		}
		if instance.BehaviorState.TicksRemaining > 0 {
			instance.BehaviorState.TicksRemaining--
		}
		if instance.BehaviorState.TicksRemaining <= 0 {
			m.endInstance(instance, tick, now, EndReasonExpired, emit)
		}
	}
}

func (m *EffectManager) endInstance(instance *EffectInstance, tick Tick, now time.Time, reason EndReason, emit func(EffectLifecycleEvent)) {
	if m == nil || instance == nil {
		return
	}
	if def := instance.Definition; def != nil {
		if hooks, ok := m.hooks[def.Hooks.OnExpire]; ok && hooks.OnExpire != nil {
			hooks.OnExpire(m, instance, tick, now)
		}
	}
	delete(m.instances, instance.ID)
	if emit != nil && instance.Replication.SendEnd {
		emit(EffectEndEvent{Tick: tick, Seq: m.allocateSeq(), ID: instance.ID, Reason: reason})
	}
}

// syncProjectileInstance copies the live projectile state back into the
// contract instance so a rehydrated client can reconstruct direction, range,
// and remaining travel from the quantized extras.
func (m *EffectManager) syncProjectileInstance(instance *EffectInstance, owner *actorState, effect *effectState) {
	if m == nil || instance == nil || effect == nil || effect.Projectile == nil {
		return
	}
	if instance.BehaviorState.Extra == nil {
		instance.BehaviorState.Extra = make(map[string]int)
	}
	extra := instance.BehaviorState.Extra
	extra["dx"] = QuantizeCoord(effect.Projectile.VelocityUnitX)
	extra["dy"] = QuantizeCoord(effect.Projectile.VelocityUnitY)
	extra["remainingRange"] = int(effect.Projectile.RemainingRange)
	if tpl := effect.Projectile.Template; tpl != nil && tpl.MaxDistance > 0 {
		extra["range"] = int(tpl.MaxDistance)
	}
	if owner != nil {
		instance.DeliveryState.Geometry.OffsetX = quantizeWorldCoord(effect.X + effect.Width/2 - owner.X)
		instance.DeliveryState.Geometry.OffsetY = quantizeWorldCoord(effect.Y + effect.Height/2 - owner.Y)
	}
	for key, value := range effect.Params {
		if key == "dx" || key == "dy" {
			continue
		}
		instance.BehaviorState.Extra[key] = int(value)
	}
	extra["dx"] = QuantizeCoord(effect.Projectile.VelocityUnitX)
	extra["dy"] = QuantizeCoord(effect.Projectile.VelocityUnitY)
}

func (m *EffectManager) ownerAlive(actorID string) bool {
	if m == nil || m.world == nil {
		return true
	}
	if _, ok := m.world.players[actorID]; ok {
		return true
	}
	if _, ok := m.world.npcs[actorID]; ok {
		return true
	}
	return false
}

func cloneIntParams(src map[string]int) map[string]int {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
