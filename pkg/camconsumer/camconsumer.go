// Package camconsumer implements the consumer-side camera API: attach
// a shared camera descriptor, read its configuration under lock, wait
// on a chosen notification slot, and attach the latest published frame
// by identifier.
package camconsumer

import (
	"time"

	"github.com/taoshm/camerafabric/internal/ipcsync"
	"github.com/taoshm/camerafabric/pkg/camdesc"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// Config is a point-in-time snapshot of the descriptor's acquisition
// configuration, taken under the descriptor lock and safe to read
// afterward without it.
type Config struct {
	State                      camdesc.State
	PixelType                  rawconvert.Encoding
	Weighted                   bool
	SensorWidth, SensorHeight  int32
	XOff, YOff, Width, Height  int32
	Bias, Gain                 float64
	Framerate, ExposureTime    float64
	Gamma                      float64
}

// Consumer is one attached, slot-bound reader of a camera descriptor.
// Each distinct consumer must pick a distinct slot; the descriptor
// keeps no registry enforcing this.
type Consumer struct {
	desc *camdesc.Descriptor
	slot int
	seen int64
}

// Attach maps the descriptor at ident and binds this consumer to slot.
// seen is seeded from the descriptor's current lastFrame.counter so
// that a frame published before Attach is not mistaken for a new one.
func Attach(ident uint64, slot int) (*Consumer, *ipcerr.Stack) {
	if slot < 0 || slot >= camdesc.NSem {
		return nil, ipcerr.NewStack().Push("camconsumer.Attach", ipcerr.BadArgument)
	}
	desc, err := camdesc.Attach(ident)
	if err != nil {
		return nil, err
	}
	if err := desc.Lock(); err != nil {
		desc.Detach()
		return nil, err
	}
	_, counter := desc.LastFrame()
	if err := desc.Unlock(); err != nil {
		desc.Detach()
		return nil, err
	}
	return &Consumer{desc: desc, slot: slot, seen: counter}, nil
}

// Detach releases the descriptor attachment.
func (c *Consumer) Detach() *ipcerr.Stack { return c.desc.Detach() }

// SnapshotConfig reads the full configuration under the descriptor
// lock and returns a detached copy.
func (c *Consumer) SnapshotConfig() (Config, *ipcerr.Stack) {
	if err := c.desc.Lock(); err != nil {
		return Config{}, err
	}
	defer c.desc.Unlock()

	xoff, yoff, width, height := c.desc.Geometry()
	cfg := Config{
		State:         c.desc.State(),
		PixelType:     c.desc.PixelType(),
		Weighted:      c.desc.Weighted(),
		SensorWidth:   c.desc.SensorWidth(),
		SensorHeight:  c.desc.SensorHeight(),
		XOff:          xoff,
		YOff:          yoff,
		Width:         width,
		Height:        height,
		Bias:          c.desc.Bias(),
		Gain:          c.desc.Gain(),
		Framerate:     c.desc.Framerate(),
		ExposureTime:  c.desc.ExposureTime(),
		Gamma:         c.desc.Gamma(),
	}
	return cfg, nil
}

// Wait blocks until this consumer's slot is posted.
func (c *Consumer) Wait() *ipcerr.Stack {
	sem, err := c.desc.Sem(c.slot)
	if err != nil {
		return err
	}
	return sem.Wait()
}

// TryWait never blocks.
func (c *Consumer) TryWait() (ipcsync.WaitOutcome, *ipcerr.Stack) {
	sem, err := c.desc.Sem(c.slot)
	if err != nil {
		return ipcsync.WouldBlock, err
	}
	return sem.TryWait()
}

// TimedWait waits up to d on this consumer's slot.
func (c *Consumer) TimedWait(d time.Duration) (ipcsync.WaitOutcome, *ipcerr.Stack) {
	sem, err := c.desc.Sem(c.slot)
	if err != nil {
		return ipcsync.WouldBlock, err
	}
	return sem.TimedWait(d)
}

// AttachLatestFrame implements step 3 of the "read a fresh frame"
// protocol: under the descriptor lock, if the latest published counter
// is newer than what this consumer has already seen, attach that array
// and advance seen. It returns (nil, nil) when there is nothing new:
// the caller's wait woke up spuriously, or a different consumer's slot
// was posted for the same frame and this call raced ahead of its own
// notification.
func (c *Consumer) AttachLatestFrame() (*sharedarray.Array, *ipcerr.Stack) {
	if err := c.desc.Lock(); err != nil {
		return nil, err
	}
	ident, counter := c.desc.LastFrame()
	if counter <= c.seen || ident == camdesc.NoFrame {
		if err := c.desc.Unlock(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	arr, attachErr := sharedarray.Attach(uint64(ident))
	c.seen = counter
	if err := c.desc.Unlock(); err != nil {
		return nil, err
	}
	if attachErr != nil {
		return nil, attachErr
	}
	return arr, nil
}

// ReadNext combines the documented three-step protocol: wait up to
// timeout on this consumer's slot, then attach whatever frame is
// newest. A zero timeout waits indefinitely.
func (c *Consumer) ReadNext(timeout time.Duration) (*sharedarray.Array, *ipcerr.Stack) {
	if timeout <= 0 {
		if err := c.Wait(); err != nil {
			return nil, err
		}
	} else {
		outcome, err := c.TimedWait(timeout)
		if err != nil {
			return nil, err
		}
		if outcome == ipcsync.TimedOut {
			return nil, ipcerr.NewStack().Push("camconsumer.ReadNext", ipcerr.NotReady)
		}
	}
	return c.AttachLatestFrame()
}
