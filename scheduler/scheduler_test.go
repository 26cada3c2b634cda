package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) job(name string, err error) Job {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.steps = append(r.steps, name)
		return err
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func TestRunOnceOrderAndErrors(t *testing.T) {
	var r recorder
	s := New(Config{Interval: time.Hour}, r.job("collect", errors.New("boom")), r.job("rotate", nil), nil)
	s.RunOnce(context.Background())

	got := r.snapshot()
	if len(got) != 2 || got[0] != "collect" || got[1] != "rotate" {
		t.Errorf("steps = %v, want [collect rotate]", got)
	}
}

func TestRunFiresImmediatelyAndOnTick(t *testing.T) {
	var r recorder
	s := New(Config{Interval: 10 * time.Millisecond}, r.job("collect", nil), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(r.snapshot()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d passes before deadline", len(r.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDefaultInterval(t *testing.T) {
	s := New(Config{}, nil, nil, nil)
	if s.config.Interval != 24*time.Hour {
		t.Errorf("Interval = %s, want 24h", s.config.Interval)
	}
}
