// Package roi validates camera region-of-interest geometry and the
// rest of an acquisition configuration, including the two-pass
// framerate/exposure ordering rule that keeps the hardware constraint
// exposureTime <= 1/framerate satisfied at every step.
package roi

import (
	"math"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
)

// Geometry is the region-of-interest block: 0-based offsets, binned
// width/height, and the sensor extent they must fit inside.
type Geometry struct {
	XOff, YOff         int
	Width, Height      int
	XBin, YBin         int
	SensorW, SensorH   int
}

// Config is the subset of the shared camera descriptor's acquisition
// fields that set_configuration validates together, since framerate
// and exposure time are cross-validated against each other.
type Config struct {
	Geometry
	PixelEncoding string
	ExposureTime  float64 // seconds
	Framerate     float64 // Hz
}

// Validate checks new against the camera's advertised supported pixel
// encodings, returning the first violated invariant as an ipcerr.Stack.
// It does not compare against a previous configuration; callers
// needing the apply-order rule should use PlanApplyOrder below.
func Validate(new Config, supportedEncodings []string) *ipcerr.Stack {
	if new.XBin < 1 || new.YBin < 1 {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadSize)
	}
	if new.XOff < 0 || new.YOff < 0 || new.Width <= 0 || new.Height <= 0 {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadRoi)
	}
	if new.XOff+new.Width*new.XBin > new.SensorW {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadRoi)
	}
	if new.YOff+new.Height*new.YBin > new.SensorH {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadRoi)
	}
	if math.IsNaN(new.ExposureTime) || math.IsInf(new.ExposureTime, 0) || new.ExposureTime < 0 {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadExposureTime)
	}
	if math.IsNaN(new.Framerate) || math.IsInf(new.Framerate, 0) || new.Framerate <= 0 {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadFramerate)
	}
	found := false
	for k := 0; k < len(supportedEncodings); k++ {
		if supportedEncodings[k] == new.PixelEncoding {
			found = true
			break
		}
	}
	if !found {
		return ipcerr.NewStack().Push("roi.Validate", ipcerr.BadEncoding)
	}
	return nil
}

// ApplyStep names one half of a two-pass configuration apply.
type ApplyStep struct {
	SetFramerate bool    // true: write Framerate; false: write ExposureTime
	Framerate    float64
	ExposureTime float64
}

// PlanApplyOrder decides, for a transition from current to next, the
// order in which framerate and exposure time must be written to the
// device so the hardware invariant exposureTime <= 1/framerate never
// goes transiently false:
//
//   - framerate decreasing: write framerate first, then exposure.
//   - framerate increasing (or unchanged): write exposure first, then
//     framerate.
//
// The returned slice has exactly two steps when both fields changed,
// one step when only one changed, and is empty when neither changed.
func PlanApplyOrder(current, next Config) []ApplyStep {
	frChanged := current.Framerate != next.Framerate
	expChanged := current.ExposureTime != next.ExposureTime

	if !frChanged && !expChanged {
		return nil
	}
	if frChanged && !expChanged {
		return []ApplyStep{{SetFramerate: true, Framerate: next.Framerate}}
	}
	if !frChanged && expChanged {
		return []ApplyStep{{ExposureTime: next.ExposureTime}}
	}

	framerateDecreasing := next.Framerate < current.Framerate
	frStep := ApplyStep{SetFramerate: true, Framerate: next.Framerate}
	expStep := ApplyStep{ExposureTime: next.ExposureTime}
	if framerateDecreasing {
		return []ApplyStep{frStep, expStep}
	}
	return []ApplyStep{expStep, frStep}
}
