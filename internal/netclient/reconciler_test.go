package netclient

import "testing"

func TestReconcilerAppliesLocalDisplacementImmediately(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.Seed(0, 0, 0)

	x, y := r.ApplyLocal(InputCommand{Seq: 1, DX: 1, DY: 0}, 1.0)
	if x <= 0 {
		t.Fatalf("expected predicted x to advance, got %v", x)
	}
	if y != 0 {
		t.Fatalf("expected predicted y unchanged for pure-x intent, got %v", y)
	}
	if got := r.PendingCount(); got != 1 {
		t.Fatalf("expected 1 pending input, got %d", got)
	}
}

func TestReconcilerSmallCorrectionIsBlendedNotSnapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconcileSnapThresholdSq = 1000 * 1000
	cfg.ReconcileSmoothFactor = 0.5

	r := NewReconciler(cfg)
	r.Seed(0, 0, 0)
	r.ApplyLocal(InputCommand{Seq: 1, DX: 1, DY: 0}, 1.0)

	_, _, snapped := r.Reconcile(150, 0, 1)
	if snapped {
		t.Fatalf("expected a small disagreement to be smoothed, not snapped")
	}
}

func TestReconcilerLargeCorrectionSnaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconcileSnapThresholdSq = 1

	r := NewReconciler(cfg)
	r.Seed(0, 0, 0)
	r.ApplyLocal(InputCommand{Seq: 1, DX: 1, DY: 0}, 1.0)

	x, y, snapped := r.Reconcile(500, 500, 1)
	if !snapped {
		t.Fatalf("expected a large disagreement to snap")
	}
	if x != 500 || y != 500 {
		t.Fatalf("expected snap to replay from the authoritative position, got (%v, %v)", x, y)
	}
}

func TestReconcilerPrunesAcknowledgedInputs(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.Seed(0, 0, 0)
	r.ApplyLocal(InputCommand{Seq: 1, DX: 1, DY: 0}, 0.1)
	r.ApplyLocal(InputCommand{Seq: 2, DX: 1, DY: 0}, 0.1)
	r.ApplyLocal(InputCommand{Seq: 3, DX: 1, DY: 0}, 0.1)

	r.Reconcile(0, 0, 2)

	if got := r.PendingCount(); got != 1 {
		t.Fatalf("expected only seq 3 still pending after acking seq 2, got %d pending", got)
	}
}

func TestReconcilerIgnoresStaleAck(t *testing.T) {
	r := NewReconciler(DefaultConfig())
	r.Seed(0, 0, 5)
	r.ApplyLocal(InputCommand{Seq: 6, DX: 1, DY: 0}, 0.1)

	beforeX, beforeY := r.Predicted()
	r.Reconcile(999, 999, 3)
	afterX, afterY := r.Predicted()

	if beforeX != afterX || beforeY != afterY {
		t.Fatalf("expected a stale (out-of-order) ack to be ignored")
	}
}

func TestReconcilerCapsPendingInputLog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingInputs = 3
	r := NewReconciler(cfg)
	r.Seed(0, 0, 0)

	for seq := uint64(1); seq <= 10; seq++ {
		r.ApplyLocal(InputCommand{Seq: seq, DX: 1, DY: 0}, 0.01)
	}

	if got := r.PendingCount(); got != 3 {
		t.Fatalf("expected pending log capped at 3, got %d", got)
	}
}

func TestApplyDisplacementClampsToWorldBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorldWidth = 100
	cfg.WorldHeight = 100
	cfg.MoveSpeed = 1000

	x, y := applyDisplacement(90, 90, 1, 1, 1.0, cfg)
	if x != 100 || y != 100 {
		t.Fatalf("expected displacement clamped to world bounds, got (%v, %v)", x, y)
	}
}

func TestReconcilerHoldsWithinCorrectionThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconcileCorrectionThreshold = 5

	r := NewReconciler(cfg)
	r.Seed(0, 0, 0)
	r.ApplyLocal(InputCommand{Seq: 1, DX: 1, DY: 0}, 0.1)

	beforeX, beforeY := r.Predicted()
	x, y, snapped := r.Reconcile(beforeX-3, beforeY, 1)
	if snapped {
		t.Fatalf("expected sub-threshold error not to snap")
	}
	if x != beforeX || y != beforeY {
		t.Fatalf("expected prediction held within tolerance, got (%v, %v)", x, y)
	}
}
