package roi

import (
	"math"
	"testing"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
)

func baseConfig() Config {
	return Config{
		Geometry: Geometry{
			XOff: 0, YOff: 0,
			Width: 100, Height: 100,
			XBin: 1, YBin: 1,
			SensorW: 1000, SensorH: 1000,
		},
		PixelEncoding: "Mono8",
		ExposureTime:  0.01,
		Framerate:     30,
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(baseConfig(), []string{"Mono8", "Mono16"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateBadBin(t *testing.T) {
	c := baseConfig()
	c.XBin = 0
	err := Validate(c, []string{"Mono8"})
	if err == nil || !err.Is(ipcerr.BadSize) {
		t.Fatalf("want BadSize, got %v", err)
	}
}

func TestValidateRoiOutOfBounds(t *testing.T) {
	c := baseConfig()
	c.Width = 2000
	err := Validate(c, []string{"Mono8"})
	if err == nil || !err.Is(ipcerr.BadRoi) {
		t.Fatalf("want BadRoi, got %v", err)
	}
}

func TestValidateNegativeOffset(t *testing.T) {
	c := baseConfig()
	c.XOff = -1
	err := Validate(c, []string{"Mono8"})
	if err == nil || !err.Is(ipcerr.BadRoi) {
		t.Fatalf("want BadRoi, got %v", err)
	}
}

func TestValidateExposureTime(t *testing.T) {
	c := baseConfig()
	c.ExposureTime = math.NaN()
	if err := Validate(c, []string{"Mono8"}); err == nil || !err.Is(ipcerr.BadExposureTime) {
		t.Fatalf("want BadExposureTime, got %v", err)
	}

	c = baseConfig()
	c.ExposureTime = -1
	if err := Validate(c, []string{"Mono8"}); err == nil || !err.Is(ipcerr.BadExposureTime) {
		t.Fatalf("want BadExposureTime for negative, got %v", err)
	}
}

func TestValidateFramerate(t *testing.T) {
	c := baseConfig()
	c.Framerate = 0
	if err := Validate(c, []string{"Mono8"}); err == nil || !err.Is(ipcerr.BadFramerate) {
		t.Fatalf("want BadFramerate, got %v", err)
	}
}

func TestValidateUnsupportedEncoding(t *testing.T) {
	c := baseConfig()
	c.PixelEncoding = "Mono32"
	err := Validate(c, []string{"Mono8", "Mono16"})
	if err == nil || !err.Is(ipcerr.BadEncoding) {
		t.Fatalf("want BadEncoding, got %v", err)
	}
}

func TestPlanApplyOrderNoChange(t *testing.T) {
	c := baseConfig()
	if steps := PlanApplyOrder(c, c); steps != nil {
		t.Fatalf("want no steps, got %+v", steps)
	}
}

func TestPlanApplyOrderFramerateDecreasing(t *testing.T) {
	// framerate 500 -> 40, exposure 0.001 -> 0.005.
	cur := baseConfig()
	cur.Framerate = 500
	cur.ExposureTime = 0.001
	next := baseConfig()
	next.Framerate = 40
	next.ExposureTime = 0.005

	steps := PlanApplyOrder(cur, next)
	if len(steps) != 2 {
		t.Fatalf("want 2 steps, got %d", len(steps))
	}
	if !steps[0].SetFramerate || steps[0].Framerate != 40 {
		t.Fatalf("first step should set framerate down first: %+v", steps[0])
	}
	if steps[1].SetFramerate || steps[1].ExposureTime != 0.005 {
		t.Fatalf("second step should set exposure: %+v", steps[1])
	}
}

func TestPlanApplyOrderFramerateIncreasing(t *testing.T) {
	cur := baseConfig()
	cur.Framerate = 10
	cur.ExposureTime = 0.05
	next := baseConfig()
	next.Framerate = 100
	next.ExposureTime = 0.005

	steps := PlanApplyOrder(cur, next)
	if len(steps) != 2 {
		t.Fatalf("want 2 steps, got %d", len(steps))
	}
	if steps[0].SetFramerate {
		t.Fatalf("first step should set exposure first when framerate increases: %+v", steps[0])
	}
	if !steps[1].SetFramerate || steps[1].Framerate != 100 {
		t.Fatalf("second step should set framerate: %+v", steps[1])
	}
}

func TestPlanApplyOrderSingleFieldChange(t *testing.T) {
	cur := baseConfig()
	next := baseConfig()
	next.ExposureTime = 0.02
	steps := PlanApplyOrder(cur, next)
	if len(steps) != 1 || steps[0].SetFramerate {
		t.Fatalf("want single exposure step, got %+v", steps)
	}
}
