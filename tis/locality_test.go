package tis

import (
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
	"github.com/ardnew/softtpm/tis/hal/sim"
)

// =============================================================================
// Locality Arbiter Tests
// =============================================================================

func TestCheckLocality(t *testing.T) {
	tests := []struct {
		name     string
		locality int
		setup    func(*Chip, *sim.Chip)
		want     bool
		wantErr  error
	}{
		{
			name:     "idle chip",
			locality: 0,
			want:     false,
		},
		{
			name:     "held by us",
			locality: 0,
			setup: func(c *Chip, _ *sim.Chip) {
				_ = c.RequestLocality(0)
			},
			want: true,
		},
		{
			name:     "other locality active",
			locality: 0,
			setup: func(_ *Chip, chip *sim.Chip) {
				chip.Hold(2, 0)
			},
			want: false,
		},
		{
			name:     "negative",
			locality: -1,
			wantErr:  pkg.ErrInvalidLocality,
		},
		{
			name:     "above four",
			locality: hal.NumLocalities,
			wantErr:  pkg.ErrInvalidLocality,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, chip := newTestChip(t)
			if tt.setup != nil {
				tt.setup(c, chip)
			}
			got, err := c.CheckLocality(tt.locality)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckLocality(%d) error = %v, want %v", tt.locality, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CheckLocality(%d) = %v, want %v", tt.locality, got, tt.want)
			}
		})
	}
}

func TestCheckLocality_RecordsLocality(t *testing.T) {
	c, chip := newTestChip(t)
	chip.Hold(2, 0)

	ok, err := c.CheckLocality(2)
	if err != nil || !ok {
		t.Fatalf("CheckLocality(2) = %v, %v; want true, nil", ok, err)
	}
	if c.Locality() != 2 {
		t.Errorf("Locality() = %d, want 2", c.Locality())
	}
}

func TestRequestLocality(t *testing.T) {
	c, chip := newTestChip(t)

	if err := c.RequestLocality(0); err != nil {
		t.Fatalf("RequestLocality(0) error = %v", err)
	}
	if c.Locality() != 0 {
		t.Errorf("Locality() = %d, want 0", c.Locality())
	}
	if chip.ActiveLocality() != 0 {
		t.Errorf("chip active locality = %d, want 0", chip.ActiveLocality())
	}
	if got := chip.Count(sim.OpWriteBytes, hal.RegAccess); got != 1 {
		t.Errorf("ACCESS writes = %d, want 1", got)
	}
}

func TestRequestLocality_FastPath(t *testing.T) {
	c, chip := newTestChip(t)
	if err := c.RequestLocality(0); err != nil {
		t.Fatalf("RequestLocality(0) error = %v", err)
	}
	chip.ResetOps()
	start := chip.Clock().Now()

	if err := c.RequestLocality(0); err != nil {
		t.Fatalf("second RequestLocality(0) error = %v", err)
	}
	if got := chip.Count(sim.OpWriteBytes, hal.RegAccess); got != 0 {
		t.Errorf("ACCESS writes on fast path = %d, want 0", got)
	}
	if got := len(chip.Ops()); got != 1 {
		t.Errorf("transport calls on fast path = %d, want 1", got)
	}
	if elapsed := chip.Clock().Now().Sub(start); elapsed != 0 {
		t.Errorf("fast path took %v, want 0", elapsed)
	}
}

func TestRequestLocality_ActivationDelay(t *testing.T) {
	c, chip := newTestChip(t)
	chip.ActivationDelay = 42 * time.Millisecond
	start := chip.Clock().Now()

	if err := c.RequestLocality(1); err != nil {
		t.Fatalf("RequestLocality(1) error = %v", err)
	}
	elapsed := chip.Clock().Now().Sub(start)
	if elapsed < chip.ActivationDelay || elapsed > chip.ActivationDelay+PollInterval {
		t.Errorf("RequestLocality(1) took %v, want within one tick of %v", elapsed, chip.ActivationDelay)
	}
}

func TestRequestLocality_Contention(t *testing.T) {
	t.Run("held forever", func(t *testing.T) {
		c, chip := newTestChip(t)
		chip.Hold(2, 0)
		start := chip.Clock().Now()

		err := c.RequestLocality(0)
		if !errors.Is(err, pkg.ErrTimeout) {
			t.Fatalf("RequestLocality(0) error = %v, want %v", err, pkg.ErrTimeout)
		}
		elapsed := chip.Clock().Now().Sub(start)
		if elapsed < DefaultTimeouts.A || elapsed > DefaultTimeouts.A+PollInterval {
			t.Errorf("RequestLocality(0) gave up after %v, want about %v", elapsed, DefaultTimeouts.A)
		}
		if c.Locality() != LocalityNone {
			t.Errorf("Locality() = %d, want %d", c.Locality(), LocalityNone)
		}
	})

	t.Run("held briefly", func(t *testing.T) {
		c, chip := newTestChip(t)
		chip.Hold(2, 100*time.Millisecond)

		if err := c.RequestLocality(0); err != nil {
			t.Fatalf("RequestLocality(0) error = %v", err)
		}
		if c.Locality() != 0 {
			t.Errorf("Locality() = %d, want 0", c.Locality())
		}
	})

	t.Run("custom timeout A", func(t *testing.T) {
		c, chip := newTestChip(t, WithTimeouts(Timeouts{A: 20 * time.Millisecond}))
		chip.Hold(4, 0)
		start := chip.Clock().Now()

		if err := c.RequestLocality(0); !errors.Is(err, pkg.ErrTimeout) {
			t.Fatalf("RequestLocality(0) error = %v, want %v", err, pkg.ErrTimeout)
		}
		if elapsed := chip.Clock().Now().Sub(start); elapsed != 20*time.Millisecond {
			t.Errorf("RequestLocality(0) gave up after %v, want 20ms", elapsed)
		}
	})
}

func TestRequestLocality_TransportFault(t *testing.T) {
	c, chip := newTestChip(t)
	chip.SetFault(func(op sim.Op) error {
		if op.Kind == sim.OpWriteBytes {
			return sim.ErrBusFault
		}
		return nil
	})

	if err := c.RequestLocality(0); !errors.Is(err, sim.ErrBusFault) {
		t.Errorf("RequestLocality(0) error = %v, want %v", err, sim.ErrBusFault)
	}
}

func TestReleaseLocality(t *testing.T) {
	t.Run("none held", func(t *testing.T) {
		c, chip := newTestChip(t)
		if err := c.ReleaseLocality(0); err != nil {
			t.Errorf("ReleaseLocality(0) error = %v", err)
		}
		if got := len(chip.Ops()); got != 0 {
			t.Errorf("transport calls = %d, want 0", got)
		}
	})

	t.Run("held", func(t *testing.T) {
		c, chip := newTestChip(t)
		if err := c.RequestLocality(0); err != nil {
			t.Fatalf("RequestLocality(0) error = %v", err)
		}
		if err := c.ReleaseLocality(0); err != nil {
			t.Fatalf("ReleaseLocality(0) error = %v", err)
		}
		if c.Locality() != LocalityNone {
			t.Errorf("Locality() = %d, want %d", c.Locality(), LocalityNone)
		}
		if chip.ActiveLocality() != -1 {
			t.Errorf("chip active locality = %d, want -1", chip.ActiveLocality())
		}
		// Idempotent.
		if err := c.ReleaseLocality(0); err != nil {
			t.Errorf("second ReleaseLocality(0) error = %v", err)
		}
	})

	t.Run("other locality held", func(t *testing.T) {
		c, chip := newTestChip(t)
		chip.Hold(2, 0)
		if ok, err := c.CheckLocality(2); err != nil || !ok {
			t.Fatalf("CheckLocality(2) = %v, %v; want true, nil", ok, err)
		}
		chip.ResetOps()

		if err := c.ReleaseLocality(0); !errors.Is(err, pkg.ErrInvalidLocality) {
			t.Errorf("ReleaseLocality(0) error = %v, want %v", err, pkg.ErrInvalidLocality)
		}
		if c.Locality() != 2 {
			t.Errorf("Locality() = %d, want 2", c.Locality())
		}
		if chip.ActiveLocality() != 2 {
			t.Errorf("chip active locality = %d, want 2", chip.ActiveLocality())
		}
		if got := chip.Count(sim.OpWriteBytes, hal.RegAccess); got != 0 {
			t.Errorf("ACCESS writes = %d, want 0", got)
		}

		if err := c.ReleaseLocality(2); err != nil {
			t.Fatalf("ReleaseLocality(2) error = %v", err)
		}
		if chip.ActiveLocality() != -1 {
			t.Errorf("chip active locality = %d after releasing 2, want -1", chip.ActiveLocality())
		}
	})

	t.Run("write fails", func(t *testing.T) {
		c, chip := newTestChip(t)
		if err := c.RequestLocality(0); err != nil {
			t.Fatalf("RequestLocality(0) error = %v", err)
		}
		chip.SetFault(func(sim.Op) error { return sim.ErrBusFault })

		if err := c.ReleaseLocality(0); !errors.Is(err, sim.ErrBusFault) {
			t.Errorf("ReleaseLocality(0) error = %v, want %v", err, sim.ErrBusFault)
		}
		if c.Locality() != 0 {
			t.Errorf("Locality() = %d after failed release, want 0", c.Locality())
		}
	})
}
