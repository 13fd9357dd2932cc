// Package camdesc implements the shared camera descriptor: a shmobj
// region holding a fixed array of process-shared semaphores (one slot
// per potential consumer) followed by the acquisition configuration
// and the identity of the most recently published frame. The producer
// is the descriptor's sole writer; every field mutation happens under
// the descriptor's own lock.
package camdesc

import (
	"os"
	"unsafe"

	"github.com/taoshm/camerafabric/internal/ipcsync"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
	"github.com/taoshm/camerafabric/pkg/shmobj"
)

// NSem is the fixed number of notification slots, one per cooperating
// consumer.
const NSem = 5

// State values for the descriptor's State field.
const (
	StateClosed State = iota
	StateOpenIdle
	StateAcquiring
)

type State int32

// NoFrame is the LastFrameIdent sentinel meaning "nothing published
// yet".
const NoFrame int64 = -1

// fields is the descriptor's fixed-layout block, placed immediately
// after the NSem semaphores.
type fields struct {
	State            int32
	Depth            int32
	PixelType        uint32
	Weighted         int32
	SensorWidth      int32
	SensorHeight     int32
	XOff             int32
	YOff             int32
	Width            int32
	Height           int32
	Bias             float64
	Gain             float64
	Framerate        float64
	ExposureTime     float64
	Gamma            float64
	LastFrameIdent   int64
	LastFrameCounter int64
}

func align(x, n uintptr) uintptr {
	return (x + n - 1) &^ (n - 1)
}

func semBlockSize() uintptr {
	return uintptr(NSem) * ipcsync.SizeofSem()
}

func fieldsOffset() uintptr {
	return align(semBlockSize(), 8)
}

func totalPayloadSize() uintptr {
	return align(fieldsOffset()+unsafe.Sizeof(fields{}), 8)
}

// Descriptor is an attached view of a shared camera descriptor.
type Descriptor struct {
	obj    *shmobj.Object
	sems   [NSem]ipcsync.Sem
	fields *fields
}

// New creates a fresh descriptor with every semaphore initialized to
// zero and State = StateClosed. The producer calls this exactly once
// at startup.
func New(perm os.FileMode) (*Descriptor, *ipcerr.Stack) {
	obj, err := shmobj.Create(shmobj.Camera, int(totalPayloadSize()), perm)
	if err != nil {
		return nil, ipcerr.Transfer(ipcerr.NewStack().Push("camdesc.New", ipcerr.AssertionFailed), err)
	}

	d := &Descriptor{obj: obj}
	payload := obj.Payload()
	for i := 0; i < NSem; i++ {
		addr := unsafe.Pointer(&payload[uintptr(i)*ipcsync.SizeofSem()])
		s, semErr := ipcsync.InitSem(addr, 0)
		if semErr != nil {
			obj.Detach()
			return nil, semErr
		}
		d.sems[i] = s
	}
	d.fields = (*fields)(unsafe.Pointer(&payload[fieldsOffset()]))
	d.fields.State = int32(StateClosed)
	d.fields.LastFrameIdent = NoFrame
	d.installDestroyHook()
	return d, nil
}

// Attach maps an existing descriptor by ident.
func Attach(ident uint64) (*Descriptor, *ipcerr.Stack) {
	obj, err := shmobj.Attach(ident, shmobj.Camera)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{obj: obj}
	payload := obj.Payload()
	for i := 0; i < NSem; i++ {
		addr := unsafe.Pointer(&payload[uintptr(i)*ipcsync.SizeofSem()])
		d.sems[i] = ipcsync.OpenSem(addr)
	}
	d.fields = (*fields)(unsafe.Pointer(&payload[fieldsOffset()]))
	d.installDestroyHook()
	return d, nil
}

// installDestroyHook registers the semaphore teardown that must run
// on whichever detach brings the segment's refs to zero. shmobj.Object
// runs this under its own accounting, after the header mutex is
// destroyed and before the segment is unmapped, so it is safe
// regardless of which attached process happens to be last.
func (d *Descriptor) installDestroyHook() {
	d.obj.SetDestroyHook(func() {
		for i := 0; i < NSem; i++ {
			d.sems[i].Destroy()
		}
	})
}

// Detach releases this attachment.
func (d *Descriptor) Detach() *ipcerr.Stack {
	return d.obj.Detach()
}

func (d *Descriptor) Ident() uint64 { return d.obj.Ident() }

func (d *Descriptor) Lock() *ipcerr.Stack   { return d.obj.Lock() }
func (d *Descriptor) Unlock() *ipcerr.Stack { return d.obj.Unlock() }

// Sem returns the semaphore at slot i. Each consumer must choose a
// distinct slot in [0, NSem); the descriptor keeps no registry of
// slot ownership.
func (d *Descriptor) Sem(i int) (ipcsync.Sem, *ipcerr.Stack) {
	if i < 0 || i >= NSem {
		return ipcsync.Sem{}, ipcerr.NewStack().Push("camdesc.Sem", ipcerr.BadArgument)
	}
	return d.sems[i], nil
}

// --- field accessors; caller must hold Lock for any of these. ---

func (d *Descriptor) State() State     { return State(d.fields.State) }
func (d *Descriptor) SetState(s State) { d.fields.State = int32(s) }

func (d *Descriptor) Weighted() bool      { return d.fields.Weighted != 0 }
func (d *Descriptor) SetWeighted(w bool) {
	if w {
		d.fields.Weighted = 1
	} else {
		d.fields.Weighted = 0
	}
}

func (d *Descriptor) PixelType() rawconvert.Encoding {
	return rawconvert.Encoding(d.fields.PixelType)
}
func (d *Descriptor) SetPixelType(e rawconvert.Encoding) { d.fields.PixelType = uint32(e) }

func (d *Descriptor) Depth() int32     { return d.fields.Depth }
func (d *Descriptor) SetDepth(v int32) { d.fields.Depth = v }

func (d *Descriptor) SensorWidth() int32  { return d.fields.SensorWidth }
func (d *Descriptor) SensorHeight() int32 { return d.fields.SensorHeight }
func (d *Descriptor) SetSensorSize(w, h int32) {
	d.fields.SensorWidth = w
	d.fields.SensorHeight = h
}

func (d *Descriptor) Geometry() (xoff, yoff, width, height int32) {
	return d.fields.XOff, d.fields.YOff, d.fields.Width, d.fields.Height
}
func (d *Descriptor) SetGeometry(xoff, yoff, width, height int32) {
	d.fields.XOff = xoff
	d.fields.YOff = yoff
	d.fields.Width = width
	d.fields.Height = height
}

func (d *Descriptor) Bias() float64     { return d.fields.Bias }
func (d *Descriptor) SetBias(v float64) { d.fields.Bias = v }

func (d *Descriptor) Gain() float64     { return d.fields.Gain }
func (d *Descriptor) SetGain(v float64) { d.fields.Gain = v }

func (d *Descriptor) Framerate() float64     { return d.fields.Framerate }
func (d *Descriptor) SetFramerate(v float64) { d.fields.Framerate = v }

func (d *Descriptor) ExposureTime() float64     { return d.fields.ExposureTime }
func (d *Descriptor) SetExposureTime(v float64) { d.fields.ExposureTime = v }

func (d *Descriptor) Gamma() float64     { return d.fields.Gamma }
func (d *Descriptor) SetGamma(v float64) { d.fields.Gamma = v }

// LastFrame returns the ident and counter of the most recently
// published array. A NoFrame ident means nothing has been published
// yet.
func (d *Descriptor) LastFrame() (ident int64, counter int64) {
	return d.fields.LastFrameIdent, d.fields.LastFrameCounter
}

func (d *Descriptor) SetLastFrame(ident uint64, counter int64) {
	d.fields.LastFrameIdent = int64(ident)
	d.fields.LastFrameCounter = counter
}
