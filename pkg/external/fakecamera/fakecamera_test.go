package fakecamera

import (
	"testing"

	"github.com/taoshm/camerafabric/pkg/external"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
)

var _ external.CameraSDK = (*Camera)(nil)

func TestOpenQueueAcquireWaitCycle(t *testing.T) {
	cam := New(4, 3)
	if _, err := cam.EnumerateDevices(); err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	if err := cam.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cam.Close()

	if err := cam.StartAcquisition(); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	defer cam.StopAcquisition()

	buf := make([]byte, 4*3*2)
	if err := cam.QueueBuffer(buf); err != nil {
		t.Fatalf("QueueBuffer: %v", err)
	}

	frame, err := cam.WaitBuffer(0)
	if err != nil {
		t.Fatalf("WaitBuffer: %v", err)
	}
	if frame.Width != 4 || frame.Height != 3 {
		t.Fatalf("frame geometry = (%d,%d), want (4,3)", frame.Width, frame.Height)
	}
	if frame.Encoding != rawconvert.Mono16 {
		t.Fatalf("frame.Encoding = %v, want Mono16", frame.Encoding)
	}
}

func TestSuccessiveFramesDifferByCounter(t *testing.T) {
	cam := New(2, 2)
	if err := cam.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cam.Close()
	if err := cam.StartAcquisition(); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	defer cam.StopAcquisition()

	buf1 := make([]byte, 2*2*2)
	buf2 := make([]byte, 2*2*2)
	if err := cam.QueueBuffer(buf1); err != nil {
		t.Fatalf("QueueBuffer 1: %v", err)
	}
	if err := cam.QueueBuffer(buf2); err != nil {
		t.Fatalf("QueueBuffer 2: %v", err)
	}

	f1, err := cam.WaitBuffer(0)
	if err != nil {
		t.Fatalf("WaitBuffer 1: %v", err)
	}
	f2, err := cam.WaitBuffer(0)
	if err != nil {
		t.Fatalf("WaitBuffer 2: %v", err)
	}

	// pixel (0,0) encodes the frame counter directly.
	p1 := uint16(f1.Data[0]) | uint16(f1.Data[1])<<8
	p2 := uint16(f2.Data[0]) | uint16(f2.Data[1])<<8
	if p2 != p1+1 {
		t.Fatalf("pixel(0,0) frame2=%d, frame1=%d; want frame2 == frame1+1", p2, p1)
	}
}

func TestWaitBufferWithoutAcquisitionFails(t *testing.T) {
	cam := New(2, 2)
	if err := cam.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cam.Close()

	if _, err := cam.WaitBuffer(0); err == nil {
		t.Fatalf("WaitBuffer should fail before StartAcquisition")
	}
}

func TestWaitBufferWithEmptyQueueFails(t *testing.T) {
	cam := New(2, 2)
	if err := cam.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cam.Close()
	if err := cam.StartAcquisition(); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	defer cam.StopAcquisition()

	if _, err := cam.WaitBuffer(0); err == nil {
		t.Fatalf("WaitBuffer should fail with nothing queued")
	}
}
