package joinkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFixedIntervalPacerWaitsInterval(t *testing.T) {
	pacer := NewFixedIntervalPacer(20 * time.Millisecond)
	started := time.Now()
	if err := pacer.Pace(context.Background()); err != nil {
		t.Fatalf("pace error: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 20*time.Millisecond {
		t.Fatalf("expected at least the configured interval, waited %v", elapsed)
	}
}

func TestFixedIntervalPacerZeroIntervalReturnsImmediately(t *testing.T) {
	pacer := NewFixedIntervalPacer(0)
	started := time.Now()
	if err := pacer.Pace(context.Background()); err != nil {
		t.Fatalf("pace error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 100*time.Millisecond {
		t.Fatalf("expected an immediate return, waited %v", elapsed)
	}
}

func TestFixedIntervalPacerHonorsCancellation(t *testing.T) {
	pacer := NewFixedIntervalPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := pacer.Pace(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
