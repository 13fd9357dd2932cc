package camdesc

import (
	"testing"
	"time"

	"github.com/taoshm/camerafabric/internal/ipcsync"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
)

func TestNewStartsClosedWithNoFrame(t *testing.T) {
	d, err := New(0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Detach()

	if err := d.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer d.Unlock()

	if d.State() != StateClosed {
		t.Fatalf("State = %v, want StateClosed", d.State())
	}
	ident, counter := d.LastFrame()
	if ident != NoFrame || counter != 0 {
		t.Fatalf("LastFrame = (%d,%d), want (%d,0)", ident, counter, NoFrame)
	}
}

func TestAttachSharesConfigAndLastFrame(t *testing.T) {
	owner, err := New(0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer owner.Detach()

	if err := owner.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	owner.SetState(StateAcquiring)
	owner.SetPixelType(rawconvert.Mono16)
	owner.SetGeometry(0, 0, 640, 480)
	owner.SetSensorSize(640, 480)
	owner.SetFramerate(30)
	owner.SetExposureTime(0.01)
	owner.SetLastFrame(12345, 7)
	if err := owner.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	peer, err := Attach(owner.Ident())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer peer.Detach()

	if err := peer.Lock(); err != nil {
		t.Fatalf("peer Lock: %v", err)
	}
	defer peer.Unlock()

	if peer.State() != StateAcquiring {
		t.Fatalf("peer State = %v, want StateAcquiring", peer.State())
	}
	if peer.PixelType() != rawconvert.Mono16 {
		t.Fatalf("peer PixelType = %v, want Mono16", peer.PixelType())
	}
	xoff, yoff, w, h := peer.Geometry()
	if xoff != 0 || yoff != 0 || w != 640 || h != 480 {
		t.Fatalf("peer Geometry = (%d,%d,%d,%d)", xoff, yoff, w, h)
	}
	ident, counter := peer.LastFrame()
	if ident != 12345 || counter != 7 {
		t.Fatalf("peer LastFrame = (%d,%d), want (12345,7)", ident, counter)
	}
}

// TestSemaphoreSlotsAreIndependent checks that each consumer
// posts/waits on its own slot without affecting the others.
func TestSemaphoreSlotsAreIndependent(t *testing.T) {
	d, err := New(0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Detach()

	slot0, err := d.Sem(0)
	if err != nil {
		t.Fatalf("Sem(0): %v", err)
	}
	slot1, err := d.Sem(1)
	if err != nil {
		t.Fatalf("Sem(1): %v", err)
	}

	if err := slot0.Post(); err != nil {
		t.Fatalf("Post slot0: %v", err)
	}
	if v := slot1.Value(); v != 0 {
		t.Fatalf("slot1 should be unaffected by a post to slot0, got value %d", v)
	}
	if err := slot0.Wait(); err != nil {
		t.Fatalf("Wait slot0: %v", err)
	}
}

func TestSemOutOfRangeIsBadArgument(t *testing.T) {
	d, err := New(0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Detach()

	if _, err := d.Sem(NSem); err == nil {
		t.Fatalf("Sem(NSem) should fail, slots are [0, NSem)")
	}
	if _, err := d.Sem(-1); err == nil {
		t.Fatalf("Sem(-1) should fail")
	}
}

// TestThreeEventsWithinWindow checks that posting and consuming three
// semaphore events on a chosen slot within a short window yields
// exactly three successful timed waits and no timeouts.
func TestThreeEventsWithinWindow(t *testing.T) {
	d, err := New(0600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Detach()

	if err := d.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	d.SetState(StateAcquiring)
	if err := d.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	slot, err := d.Sem(1)
	if err != nil {
		t.Fatalf("Sem(1): %v", err)
	}

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			slot.Post()
		}
	}()

	successes := 0
	for i := 0; i < 3; i++ {
		outcome, err := slot.TimedWait(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("TimedWait: %v", err)
		}
		if outcome != ipcsync.Acquired {
			t.Fatalf("timed out waiting for event %d", i)
		}
		successes++
	}
	if successes != 3 {
		t.Fatalf("successes = %d, want 3", successes)
	}
}
