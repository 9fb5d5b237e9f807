package session

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type messageLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *messageLog) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *messageLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRotator_Defaults(t *testing.T) {
	r := NewRotator(nil, 0, nil)
	if r.interval != DefaultStatusInterval {
		t.Errorf("interval = %v, want %v", r.interval, DefaultStatusInterval)
	}
	if r.First() != "Analyzing the image..." {
		t.Errorf("First() = %q", r.First())
	}
	if len(StatusMessages()) != 6 {
		t.Errorf("StatusMessages() has %d entries, want 6", len(StatusMessages()))
	}
}

func TestRotator_CyclesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	msgs := []string{"one", "two", "three"}
	var got messageLog
	r := NewRotator(msgs, 5*time.Millisecond, got.add)

	r.Start()
	if r.Current() != "one" {
		t.Errorf("Current() after Start = %q, want %q", r.Current(), "one")
	}
	waitFor(t, time.Second, func() bool { return len(got.snapshot()) >= 4 })
	r.Stop()

	seen := got.snapshot()
	want := []string{"two", "three", "one", "two"}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("message %d = %q, want %q (all: %v)", i, seen[i], w, seen)
		}
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Errorf("consecutive messages equal at %d: %q", i, seen[i])
		}
	}
}

func TestRotator_StopIsFinal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var got messageLog
	r := NewRotator([]string{"a", "b"}, time.Millisecond, got.add)
	r.Start()
	waitFor(t, time.Second, func() bool { return len(got.snapshot()) > 0 })
	r.Stop()

	if r.Running() {
		t.Error("Running() = true after Stop")
	}
	n := len(got.snapshot())
	time.Sleep(20 * time.Millisecond)
	if after := len(got.snapshot()); after != n {
		t.Errorf("received %d messages after Stop", after-n)
	}
}

func TestRotator_StopIdempotentAndConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRotator(nil, time.Millisecond, nil)
	r.Stop() // never started

	r.Start()
	r.Start() // already running

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
	r.Stop()
}

func TestRotator_RestartBeginsAtFirst(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var got messageLog
	r := NewRotator([]string{"a", "b", "c"}, time.Millisecond, got.add)
	r.Start()
	waitFor(t, time.Second, func() bool { return len(got.snapshot()) >= 1 })
	r.Stop()

	r.Start()
	if r.Current() != "a" {
		t.Errorf("Current() after restart = %q, want %q", r.Current(), "a")
	}
	r.Stop()
}

func TestRotator_SingleMessage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var got messageLog
	r := NewRotator([]string{"only"}, time.Millisecond, got.add)
	r.Start()
	waitFor(t, time.Second, func() bool { return len(got.snapshot()) >= 2 })
	r.Stop()

	for _, m := range got.snapshot() {
		if m != "only" {
			t.Errorf("message = %q, want %q", m, "only")
		}
	}
}
