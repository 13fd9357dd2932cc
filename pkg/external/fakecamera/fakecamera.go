// Package fakecamera implements a deterministic synthetic
// external.CameraSDK for demos and tests: it never touches real
// hardware, but follows the same queue/wait/flush buffer-acquisition
// cycle a real vendor SDK requires, so code written against
// external.CameraSDK exercises the exact same call sequence whether
// it is pointed at this fake or a real device.
package fakecamera

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/taoshm/camerafabric/pkg/external"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
)

// Camera is a synthetic single-device area-scan camera. Frames are a
// deterministic function of the frame counter and pixel position, so
// tests can assert on exact pixel values rather than just "a frame
// arrived".
type Camera struct {
	mu sync.Mutex

	opened   bool
	width    int
	height   int
	encoding rawconvert.Encoding

	features map[string]external.FeatureValue

	acquiring bool
	counter   uint64
	queue     [][]byte
}

// New constructs a fake camera that produces Mono16 frames of the
// given geometry.
func New(width, height int) *Camera {
	return &Camera{
		width:    width,
		height:   height,
		encoding: rawconvert.Mono16,
		features: map[string]external.FeatureValue{
			"ExposureTime": {Kind: external.FeatureFloat, Float: 0.01},
			"Gain":         {Kind: external.FeatureFloat, Float: 1.0},
			"Framerate":    {Kind: external.FeatureFloat, Float: 30.0},
		},
	}
}

func (c *Camera) EnumerateDevices() ([]external.DeviceInfo, *ipcerr.Stack) {
	return []external.DeviceInfo{{Index: 0, Name: "FakeCamera", Serial: "FAKE-0001"}}, nil
}

func (c *Camera) Open(index int) *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index != 0 {
		return ipcerr.NewStack().Push("fakecamera.Open", ipcerr.BadDevice)
	}
	c.opened = true
	c.counter = 0
	return nil
}

func (c *Camera) Close() *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	c.acquiring = false
	c.queue = nil
	return nil
}

func (c *Camera) ReadFeature(name string) (external.FeatureValue, *ipcerr.Stack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.features[name]
	if !ok {
		return external.FeatureValue{}, ipcerr.NewStack().Push("fakecamera.ReadFeature", ipcerr.NotFound)
	}
	return v, nil
}

func (c *Camera) WriteFeature(name string, value external.FeatureValue) *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.features[name]; !ok {
		return ipcerr.NewStack().Push("fakecamera.WriteFeature", ipcerr.NotFound)
	}
	c.features[name] = value
	return nil
}

func (c *Camera) CurrentEncoding() (rawconvert.Encoding, *ipcerr.Stack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding, nil
}

func (c *Camera) SupportedEncodings() ([]rawconvert.Encoding, *ipcerr.Stack) {
	return []rawconvert.Encoding{rawconvert.Mono8, rawconvert.Mono16}, nil
}

// QueueBuffer enqueues caller-owned memory to be filled by a future
// WaitBuffer call, mirroring a real SDK's buffer-queue model.
func (c *Camera) QueueBuffer(buf []byte) *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	need := c.width * c.height * rawconvert.BytesPerPixel(c.encoding)
	if len(buf) < need {
		return ipcerr.NewStack().Push("fakecamera.QueueBuffer", ipcerr.BadSize)
	}
	c.queue = append(c.queue, buf)
	return nil
}

// WaitBuffer fills the oldest queued buffer with a synthetic Mono16
// pattern, (x + y + frame counter) mod 65536, and returns it.
func (c *Camera) WaitBuffer(timeout time.Duration) (*external.FrameBuffer, *ipcerr.Stack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acquiring {
		return nil, ipcerr.NewStack().Push("fakecamera.WaitBuffer", ipcerr.NoAcquisition)
	}
	if len(c.queue) == 0 {
		return nil, ipcerr.NewStack().Push("fakecamera.WaitBuffer", ipcerr.NotReady)
	}

	buf := c.queue[0]
	c.queue = c.queue[1:]
	stride := c.width * 2

	for y := 0; y < c.height; y++ {
		row := buf[y*stride:]
		for x := 0; x < c.width; x++ {
			v := uint16((uint64(x) + uint64(y) + c.counter) % 65536)
			binary.LittleEndian.PutUint16(row[x*2:], v)
		}
	}
	c.counter++

	return &external.FrameBuffer{
		Data:     buf,
		Stride:   stride,
		Encoding: c.encoding,
		Width:    c.width,
		Height:   c.height,
		Captured: time.Now(),
	}, nil
}

func (c *Camera) FlushBuffers() *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
	return nil
}

func (c *Camera) StartAcquisition() *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return ipcerr.NewStack().Push("fakecamera.StartAcquisition", ipcerr.BadDevice)
	}
	c.acquiring = true
	return nil
}

func (c *Camera) StopAcquisition() *ipcerr.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquiring = false
	return nil
}
