// Package external names the contracts the core acquisition path
// consumes from collaborators kept deliberately out of scope: the
// vendor camera SDK and the FITS/preview file writers. The core only
// ever depends on these interfaces, never on a concrete vendor
// implementation; pkg/external/fakecamera provides a deterministic
// synthetic CameraSDK for demos and tests.
package external

import (
	"time"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// FeatureKind identifies the type of one named camera feature: boolean,
// integer, float, enumeration-by-index-or-string, string, or command.
type FeatureKind int

const (
	FeatureBool FeatureKind = iota
	FeatureInt
	FeatureFloat
	FeatureEnum
	FeatureString
	FeatureCommand
)

// FeatureValue is a tagged union over the feature kinds above. Only
// the field matching Kind is meaningful.
type FeatureValue struct {
	Kind      FeatureKind
	Bool      bool
	Int       int64
	Float     float64
	EnumIndex int
	EnumName  string
	String    string
}

// DeviceInfo describes one camera the SDK can open.
type DeviceInfo struct {
	Index  int
	Name   string
	Serial string
}

// FrameBuffer is one completed raw capture handed back by WaitBuffer:
// the on-wire bytes in the camera's pixel encoding, plus the geometry
// needed to decode them.
type FrameBuffer struct {
	Data     []byte
	Stride   int
	Encoding rawconvert.Encoding
	Width    int
	Height   int
	Captured time.Time
}

// CameraSDK is the small contract the core requires of whatever native
// camera library sits beneath it: enumerate devices, open/close,
// read/write a named typed feature, read the current and supported
// pixel encodings, and the queue/wait/flush/start/stop
// buffer-acquisition cycle.
type CameraSDK interface {
	EnumerateDevices() ([]DeviceInfo, *ipcerr.Stack)
	Open(index int) *ipcerr.Stack
	Close() *ipcerr.Stack

	ReadFeature(name string) (FeatureValue, *ipcerr.Stack)
	WriteFeature(name string, value FeatureValue) *ipcerr.Stack

	CurrentEncoding() (rawconvert.Encoding, *ipcerr.Stack)
	SupportedEncodings() ([]rawconvert.Encoding, *ipcerr.Stack)

	QueueBuffer(buf []byte) *ipcerr.Stack
	WaitBuffer(timeout time.Duration) (*FrameBuffer, *ipcerr.Stack)
	FlushBuffers() *ipcerr.Stack

	StartAcquisition() *ipcerr.Stack
	StopAcquisition() *ipcerr.Stack
}

// FITSWriter is the optional debug-capture path: save an array to an
// image HDU whose bit-depth is derived from the element type.
type FITSWriter interface {
	Save(arr *sharedarray.Array, path string, overwrite bool) *ipcerr.Stack
}

// DebugPreviewWriter renders a shared array as a viewable image for
// quick visual inspection; it is purely a development convenience
// built atop the same array type.
type DebugPreviewWriter interface {
	WritePreview(arr *sharedarray.Array, path string) *ipcerr.Stack
}
