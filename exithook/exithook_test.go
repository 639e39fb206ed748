package exithook

import (
	"sync"
	"testing"
)

func TestFireRunsOnceWhenEnabled(t *testing.T) {
	h := New()
	calls := 0
	h.Arm(func() { calls++ })
	h.Enable()

	h.Fire()
	h.Fire()
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
}

func TestFireDisabledIsNoOp(t *testing.T) {
	h := New()
	calls := 0
	h.Arm(func() { calls++ })

	h.Fire()
	if calls != 0 {
		t.Fatal("disabled hook fired")
	}

	h.Enable()
	h.Disable()
	h.Fire()
	if calls != 0 {
		t.Fatal("re-disabled hook fired")
	}
}

func TestDisabledFireDoesNotConsumeTheShot(t *testing.T) {
	h := New()
	calls := 0
	h.Arm(func() { calls++ })

	h.Fire() // disabled, must not count as the one firing
	h.Enable()
	h.Fire()
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
}

func TestRearmAfterFireStaysSpent(t *testing.T) {
	h := New()
	first, second := 0, 0
	h.Arm(func() { first++ })
	h.Enable()
	h.Fire()

	h.Arm(func() { second++ })
	h.Enable()
	h.Fire()
	if first != 1 || second != 0 {
		t.Fatalf("first=%d second=%d, want 1 and 0", first, second)
	}
}

func TestArmReplacesCallback(t *testing.T) {
	h := New()
	old, cur := 0, 0
	h.Arm(func() { old++ })
	h.Arm(func() { cur++ })
	h.Enable()
	h.Fire()
	if old != 0 || cur != 1 {
		t.Fatalf("old=%d cur=%d", old, cur)
	}
}

func TestCallbackMayTouchHook(t *testing.T) {
	h := New()
	h.Arm(func() { h.Disable() })
	h.Enable()
	h.Fire() // must not deadlock
}

func TestConcurrentFire(t *testing.T) {
	h := New()
	var mu sync.Mutex
	calls := 0
	h.Arm(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	h.Enable()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Fire()
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("callback ran %d times under concurrent Fire, want 1", calls)
	}
}

func TestProcessHookIsShared(t *testing.T) {
	if Process() != Process() {
		t.Fatal("Process returned distinct hooks")
	}
}
