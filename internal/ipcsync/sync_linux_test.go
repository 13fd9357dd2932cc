package ipcsync

import (
	"testing"
	"time"
	"unsafe"
)

// newMutex allocates correctly-sized, correctly-aligned storage for
// a pthread_mutex_t without the test package needing to import the cgo
// preamble's types directly.
func newMutex(t *testing.T) Mutex {
	t.Helper()
	buf := make([]byte, SizeofMutex())
	m, err := InitMutex(unsafe.Pointer(&buf[0]))
	if err != nil {
		t.Fatalf("InitMutex: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Destroy(true); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	})
	return m
}

func newCond(t *testing.T) Cond {
	t.Helper()
	buf := make([]byte, SizeofCond())
	c, err := InitCond(unsafe.Pointer(&buf[0]))
	if err != nil {
		t.Fatalf("InitCond: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Destroy(); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	})
	return c
}

func newSem(t *testing.T, initial uint32) Sem {
	t.Helper()
	buf := make([]byte, SizeofSem())
	s, err := InitSem(unsafe.Pointer(&buf[0]), initial)
	if err != nil {
		t.Fatalf("InitSem: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Destroy(); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	})
	return s
}

func TestMutexLockUnlockRoundTrip(t *testing.T) {
	m := newMutex(t)
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if ok, err := m.TryLock(); err != nil || ok {
		t.Fatalf("TryLock on a held mutex should report not-acquired: ok=%v err=%v", ok, err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if ok, err := m.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock on a free mutex should succeed: ok=%v err=%v", ok, err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestMutexContendedAcrossGoroutines(t *testing.T) {
	m := newMutex(t)
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := m.Lock(); err != nil {
			t.Errorf("goroutine Lock: %v", err)
		}
		if err := m.Unlock(); err != nil {
			t.Errorf("goroutine Unlock: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("goroutine acquired the mutex while it was still held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	<-done
}

func TestCondSignalWakesWaiter(t *testing.T) {
	m := newMutex(t)
	c := newCond(t)

	woke := make(chan struct{})
	go func() {
		if err := m.Lock(); err != nil {
			t.Errorf("Lock: %v", err)
			return
		}
		if err := c.Wait(m); err != nil {
			t.Errorf("Wait: %v", err)
		}
		if err := m.Unlock(); err != nil {
			t.Errorf("Unlock: %v", err)
		}
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := c.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("waiter was not woken by Signal")
	}
}

func TestCondTimedWaitTimesOut(t *testing.T) {
	m := newMutex(t)
	c := newCond(t)

	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	outcome, err := c.TimedWait(m, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if outcome != TimedOut {
		t.Fatalf("want TimedOut, got %v", outcome)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

// TestCondTimedWaitDegradesPastOneYear checks that a duration beyond
// the one-year ceiling falls back to an untimed wait instead of
// risking an unrepresentable absolute deadline, so it must still be
// woken by a normal Signal.
func TestCondTimedWaitDegradesPastOneYear(t *testing.T) {
	m := newMutex(t)
	c := newCond(t)

	woke := make(chan struct{})
	go func() {
		if err := m.Lock(); err != nil {
			t.Errorf("Lock: %v", err)
			return
		}
		outcome, err := c.TimedWait(m, 2*oneYear)
		if err != nil {
			t.Errorf("TimedWait: %v", err)
		}
		if outcome != Acquired {
			t.Errorf("want Acquired, got %v", outcome)
		}
		if err := m.Unlock(); err != nil {
			t.Errorf("Unlock: %v", err)
		}
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := c.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("waiter past the one-year ceiling was not woken by Signal")
	}
}

func TestSemPostWaitRoundTrip(t *testing.T) {
	s := newSem(t, 0)
	if outcome, err := s.TryWait(); err != nil || outcome != WouldBlock {
		t.Fatalf("TryWait on an empty sem: outcome=%v err=%v", outcome, err)
	}
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if v := s.Value(); v != 1 {
		t.Fatalf("Value after one Post = %d, want 1", v)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSemTimedWaitShortCircuitsToTryWait(t *testing.T) {
	s := newSem(t, 0)
	outcome, err := s.TimedWait(0)
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if outcome != WouldBlock {
		t.Fatalf("TimedWait(0) on an empty sem should behave like TryWait, got %v", outcome)
	}
}

func TestSemTimedWaitTimesOut(t *testing.T) {
	s := newSem(t, 0)
	outcome, err := s.TimedWait(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if outcome != TimedOut {
		t.Fatalf("want TimedOut, got %v", outcome)
	}
}

func TestSemValueTracksPostsAndWaits(t *testing.T) {
	s := newSem(t, 0)
	for i := 0; i < 3; i++ {
		if err := s.Post(); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if v := s.Value(); v != 3 {
		t.Fatalf("Value = %d, want 3", v)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v := s.Value(); v != 2 {
		t.Fatalf("Value after one Wait = %d, want 2", v)
	}
}
