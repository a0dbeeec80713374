package server

import effectcontract "rift-and-ruin/server/effects/contract"

// The effect contract lives in effects/contract so the catalog tooling, the
// journal, and this package all speak one set of types. The aliases below keep
// the simulation code terse without duplicating the contract.
type (
	Seq                 = effectcontract.Seq
	Tick                = effectcontract.Tick
	DeliveryKind        = effectcontract.DeliveryKind
	FollowMode          = effectcontract.FollowMode
	GeometryShape       = effectcontract.GeometryShape
	MotionKind          = effectcontract.MotionKind
	ImpactPolicy        = effectcontract.ImpactPolicy
	EndReason           = effectcontract.EndReason
	EndPolicyKind       = effectcontract.EndPolicyKind
	EndConditions       = effectcontract.EndConditions
	EndPolicy           = effectcontract.EndPolicy
	EffectGeometry      = effectcontract.EffectGeometry
	EffectIntent        = effectcontract.EffectIntent
	EffectMotionState   = effectcontract.EffectMotionState
	EffectDeliveryState = effectcontract.EffectDeliveryState
	EffectBehaviorState = effectcontract.EffectBehaviorState
	ReplicationSpec     = effectcontract.ReplicationSpec
	EffectInstance      = effectcontract.EffectInstance
	EffectHooks         = effectcontract.EffectHooks
	EffectDefinition    = effectcontract.EffectDefinition
	EffectSpawnEvent    = effectcontract.EffectSpawnEvent
	EffectUpdateEvent   = effectcontract.EffectUpdateEvent
	EffectEndEvent      = effectcontract.EffectEndEvent
	EffectLifecycleEvent = effectcontract.EffectLifecycleEvent
)

const (
	DeliveryKindArea   = effectcontract.DeliveryKindArea
	DeliveryKindTarget = effectcontract.DeliveryKindTarget
	DeliveryKindVisual = effectcontract.DeliveryKindVisual

	FollowNone   = effectcontract.FollowNone
	FollowOwner  = effectcontract.FollowOwner
	FollowTarget = effectcontract.FollowTarget

	GeometryShapeCircle  = effectcontract.GeometryShapeCircle
	GeometryShapeRect    = effectcontract.GeometryShapeRect
	GeometryShapeArc     = effectcontract.GeometryShapeArc
	GeometryShapeSegment = effectcontract.GeometryShapeSegment
	GeometryShapeCapsule = effectcontract.GeometryShapeCapsule

	MotionKindNone      = effectcontract.MotionKindNone
	MotionKindInstant   = effectcontract.MotionKindInstant
	MotionKindLinear    = effectcontract.MotionKindLinear
	MotionKindParabolic = effectcontract.MotionKindParabolic
	MotionKindFollow    = effectcontract.MotionKindFollow

	ImpactPolicyFirstHit  = effectcontract.ImpactPolicyFirstHit
	ImpactPolicyAllInPath = effectcontract.ImpactPolicyAllInPath
	ImpactPolicyPierceMany = effectcontract.ImpactPolicyPierceMany
	ImpactPolicyNone      = effectcontract.ImpactPolicyNone

	EndReasonExpired   = effectcontract.EndReasonExpired
	EndReasonOwnerLost = effectcontract.EndReasonOwnerLost
	EndReasonCancelled = effectcontract.EndReasonCancelled
	EndReasonMapChange = effectcontract.EndReasonMapChange

	EndDuration  = effectcontract.EndDuration
	EndInstant   = effectcontract.EndInstant
	EndCondition = effectcontract.EndCondition
)
