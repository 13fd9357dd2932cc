// Command producer owns the shared camera descriptor and frame ring:
// it drives a camera (the synthetic pkg/external/fakecamera by
// default), decodes each raw buffer into the shared ring, publishes
// it, and exposes a control-line server and Prometheus metrics
// alongside it. Components are wired up from flags, each running on
// its own goroutine, with a graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/taoshm/camerafabric/internal/controlserver"
	"github.com/taoshm/camerafabric/internal/fitswriter"
	"github.com/taoshm/camerafabric/internal/logger"
	"github.com/taoshm/camerafabric/internal/metrics"
	"github.com/taoshm/camerafabric/pkg/camdesc"
	"github.com/taoshm/camerafabric/pkg/external/fakecamera"
	"github.com/taoshm/camerafabric/pkg/framering"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/ipctime"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

var (
	sensorWidth  = flag.Int("sensor-width", 640, "Sensor width in pixels")
	sensorHeight = flag.Int("sensor-height", 480, "Sensor height in pixels")
	framerate    = flag.Float64("framerate", 30, "Acquisition framerate (Hz)")
	exposureTime = flag.Float64("exposure", 0.01, "Exposure time (seconds)")
	ringDepth    = flag.Int("ring-depth", 4, "Number of ring buffer slots")
	permBits     = flag.Int("perm", 0600, "Shared memory permission bits")
	identFile    = flag.String("ident-file", "./producer.ident", "Where to write the descriptor ident for consumers")

	metricsAddr = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr   = flag.String("pprof", ":6060", "pprof server address")
	controlAddr = flag.String("control", ":7070", "Control-line server address")
	debugDir    = flag.String("debug-dir", "./debug", "Directory for control-triggered FITS/preview saves")

	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor = flag.Bool("log-color", true, "Enable colored log output")
)

// ringElementType is the destination representation every captured
// frame is decoded into, regardless of the camera's own wire encoding.
const ringElementType = sharedarray.Uint16

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)
	logger.Info("main", "producer starting")

	if err := os.MkdirAll(*debugDir, 0755); err != nil {
		log.Fatalf("failed to create debug directory: %v", err)
	}

	desc, err := camdesc.New(os.FileMode(*permBits))
	if err != nil {
		log.Fatalf("camdesc.New: %v", err)
	}
	defer desc.Detach()

	if err := os.WriteFile(*identFile, []byte(fmt.Sprintf("%d\n", desc.Ident())), 0644); err != nil {
		log.Fatalf("failed to write ident file: %v", err)
	}
	logger.Info("main", "descriptor ident %d written to %s", desc.Ident(), *identFile)

	cam := fakecamera.New(*sensorWidth, *sensorHeight)
	if openErr := cam.Open(0); openErr != nil {
		log.Fatalf("camera Open: %v", openErr)
	}
	defer cam.Close()

	supported, supErr := cam.SupportedEncodings()
	if supErr != nil {
		log.Fatalf("SupportedEncodings: %v", supErr)
	}
	supportedNames := make([]string, len(supported))
	for i, e := range supported {
		supportedNames[i] = e.String()
	}

	if lockErr := desc.Lock(); lockErr != nil {
		log.Fatalf("Lock: %v", lockErr)
	}
	desc.SetSensorSize(int32(*sensorWidth), int32(*sensorHeight))
	desc.SetGeometry(0, 0, int32(*sensorWidth), int32(*sensorHeight))
	desc.SetPixelType(rawconvert.Mono16)
	desc.SetFramerate(*framerate)
	desc.SetExposureTime(*exposureTime)
	desc.SetState(camdesc.StateOpenIdle)
	if unlockErr := desc.Unlock(); unlockErr != nil {
		log.Fatalf("Unlock: %v", unlockErr)
	}

	ring, err := framering.New(desc, *ringDepth, ringElementType, os.FileMode(*permBits))
	if err != nil {
		log.Fatalf("framering.New: %v", err)
	}
	defer ring.Close()

	if startErr := cam.StartAcquisition(); startErr != nil {
		log.Fatalf("StartAcquisition: %v", startErr)
	}
	defer cam.StopAcquisition()

	if lockErr := desc.Lock(); lockErr != nil {
		log.Fatalf("Lock: %v", lockErr)
	}
	desc.SetState(camdesc.StateAcquiring)
	if unlockErr := desc.Unlock(); unlockErr != nil {
		log.Fatalf("Unlock: %v", unlockErr)
	}

	m := metrics.New()
	var latestArr atomic.Pointer[sharedarray.Array]

	ctrl := controlserver.New(controlserver.Config{
		Desc:               desc,
		SupportedEncodings: supportedNames,
		FITSWriter:         fitswriter.Writer{},
		PreviewWriter:      fitswriter.PreviewWriter{},
		LatestFrame: func() (*sharedarray.Array, *ipcerr.Stack) {
			arr := latestArr.Load()
			if arr == nil {
				return nil, ipcerr.NewStack().Push("main.LatestFrame", ipcerr.NotReady)
			}
			return arr, nil
		},
	})

	go func() {
		logger.Info("main", "pprof listening on %s", *pprofAddr)
		if srvErr := http.ListenAndServe(*pprofAddr, nil); srvErr != nil {
			logger.Warn("main", "pprof server error: %v", srvErr)
		}
	}()
	go func() {
		logger.Info("main", "metrics listening on %s", *metricsAddr)
		if srvErr := m.StartServer(*metricsAddr); srvErr != nil {
			logger.Warn("main", "metrics server error: %v", srvErr)
		}
	}()
	go func() {
		logger.Info("main", "control server listening on %s", *controlAddr)
		if srvErr := ctrl.Serve(*controlAddr); srvErr != nil {
			logger.Warn("main", "control server error: %v", srvErr)
		}
	}()

	stop := make(chan struct{})
	go acquireLoop(cam, ring, desc, m, &latestArr, stop)


	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("main", "shutting down")
	close(stop)
	ctrl.Close()

	if lockErr := desc.Lock(); lockErr == nil {
		desc.SetState(camdesc.StateClosed)
		desc.Unlock()
	}
	logger.Info("main", "producer stopped")
}

func acquireLoop(cam *fakecamera.Camera, ring *framering.Ring, desc *camdesc.Descriptor, m *metrics.Metrics, latestArr *atomic.Pointer[sharedarray.Array], stop chan struct{}) {
	period := time.Second
	if fr, frErr := currentFramerate(desc); frErr == nil && fr > 0 {
		period = time.Duration(float64(time.Second) / fr)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			captureOne(cam, ring, desc, m, latestArr)
		}
	}
}

func currentFramerate(desc *camdesc.Descriptor) (float64, *ipcerr.Stack) {
	if err := desc.Lock(); err != nil {
		return 0, err
	}
	defer desc.Unlock()
	return desc.Framerate(), nil
}

// uint16View reinterprets arr's byte payload as its Uint16 element
// view, the same zero-copy approach rawconvert's decoders use
// internally against their own destination slices.
func uint16View(arr *sharedarray.Array) []uint16 {
	raw := arr.DataPtr()
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&raw[0])), int(arr.Length()))
}

func captureOne(cam *fakecamera.Camera, ring *framering.Ring, desc *camdesc.Descriptor, m *metrics.Metrics, latestArr *atomic.Pointer[sharedarray.Array]) {
	if lockErr := desc.Lock(); lockErr != nil {
		m.IPCErrors.Add(1)
		return
	}
	defer desc.Unlock()

	arr, fetchErr := ring.FetchNext()
	if fetchErr != nil {
		m.IPCErrors.Add(1)
		return
	}

	width, height := int(arr.DimSize(0)), int(arr.DimSize(1))
	buf := make([]byte, width*height*2)
	if queueErr := cam.QueueBuffer(buf); queueErr != nil {
		m.AcquisitionErrors.Add(1)
		return
	}
	frame, waitErr := cam.WaitBuffer(100 * time.Millisecond)
	if waitErr != nil {
		m.AcquisitionErrors.Add(1)
		return
	}
	m.FramesCaptured.Add(1)

	if decErr := rawconvert.Convert(uint16View(arr), rawconvert.Mono16, frame.Data, frame.Encoding, frame.Width, frame.Height, frame.Stride); decErr != nil {
		m.DecodeErrors.Add(1)
		return
	}

	if lockErr := arr.Lock(); lockErr != nil {
		m.IPCErrors.Add(1)
		return
	}
	// Capture instant on the monotonic clock: the current monotonic
	// reading minus the time elapsed since the frame was captured.
	arr.SetTimestamp(ipctime.Sub(ipctime.NowMonotonic(), ipctime.Time{Nsec: int64(time.Since(frame.Captured))}))
	if unlockErr := arr.Unlock(); unlockErr != nil {
		m.IPCErrors.Add(1)
		return
	}

	if pubErr := ring.PublishNext(arr); pubErr != nil {
		m.IPCErrors.Add(1)
		return
	}
	m.FramesPublished.Add(1)
	m.UpdateCaptureLatency(frame.Captured)
	latestArr.Store(arr)
}
