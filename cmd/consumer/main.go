// Command consumer attaches to a producer's shared camera descriptor,
// pulls frames through pkg/camconsumer, and fans them out to WebRTC
// preview viewers and an optional FITS recording session, alongside
// its own metrics endpoint and an HTTP server for WebRTC offers and
// recording control. It mirrors cmd/producer's
// flag-driven wiring shape, but on the read side of the descriptor.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/taoshm/camerafabric/internal/fitswriter"
	"github.com/taoshm/camerafabric/internal/logger"
	"github.com/taoshm/camerafabric/internal/metrics"
	"github.com/taoshm/camerafabric/internal/recorder"
	"github.com/taoshm/camerafabric/internal/webrtc"
	"github.com/taoshm/camerafabric/pkg/camconsumer"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

var (
	identFile   = flag.String("ident-file", "./producer.ident", "File written by the producer holding the descriptor ident")
	slot        = flag.Int("slot", 0, "Notification slot to attach with (must be distinct across consumers)")
	recordPath  = flag.String("record-path", "./recordings", "FITS recording output directory")
	httpAddr    = flag.String("http", ":8081", "HTTP signaling address")
	metricsAddr = flag.String("metrics", ":9091", "Metrics server address")
	pprofAddr   = flag.String("pprof", ":6061", "pprof server address")
	maxClients  = flag.Int("max-clients", 10, "Maximum WebRTC viewers")
	stunServers = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)
	logger.Info("main", "consumer starting")

	if err := os.MkdirAll(*recordPath, 0755); err != nil {
		log.Fatalf("failed to create recordings directory: %v", err)
	}

	ident, err := readIdent(*identFile)
	if err != nil {
		log.Fatalf("failed to read producer ident: %v", err)
	}

	consumer, attachErr := camconsumer.Attach(ident, *slot)
	if attachErr != nil {
		log.Fatalf("camconsumer.Attach: %v", attachErr)
	}
	defer consumer.Detach()

	if _, cfgErr := consumer.SnapshotConfig(); cfgErr != nil {
		log.Fatalf("SnapshotConfig: %v", cfgErr)
	}

	m := metrics.New()
	rec := recorder.New(consumer, fitswriter.Writer{}, *recordPath)
	wrtc := webrtc.NewServer(strings.Split(*stunServers, ","), *maxClients)

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

	mux := http.NewServeMux()
	mux.HandleFunc("/offer", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		handleOffer(w, r, wrtc, m)
	}))
	mux.HandleFunc("/recording/start", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		handleRecordingStart(w, r, rec)
	}))
	mux.HandleFunc("/recording/stop", corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		handleRecordingStop(w, r, rec)
	}))
	mux.HandleFunc("/recording/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, rec)
	})
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}

	go func() {
		logger.Info("main", "http listening on %s", *httpAddr)
		if srvErr := httpServer.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Warn("main", "http server error: %v", srvErr)
		}
	}()

	stop := make(chan struct{})
	go previewLoop(consumer, wrtc, m, stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("main", "shutting down")
	close(stop)
	if rec.IsRecording() {
		rec.Stop()
	}
	wrtc.Close()
	logger.Info("main", "consumer stopped")
}

func readIdent(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, parseErr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("invalid ident file contents: %w", parseErr)
	}
	return v, nil
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func handleOffer(w http.ResponseWriter, r *http.Request, wrtc *webrtc.Server, m *metrics.Metrics) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	answer, err := wrtc.HandleOffer(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(answer)
}

func handleRecordingStart(w http.ResponseWriter, r *http.Request, rec *recorder.Recorder) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dir, err := rec.Start()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to start recording: %v", err), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, `{"status":"recording","dir":%q}`, dir)
}

func handleRecordingStop(w http.ResponseWriter, r *http.Request, rec *recorder.Recorder) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dir, err := rec.Stop()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to stop recording: %v", err), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, `{"status":"stopped","dir":%q}`, dir)
}

func writeStatus(w http.ResponseWriter, rec *recorder.Recorder) {
	status := rec.Status()
	fmt.Fprintf(w, `{"recording":%v,"dir":%q,"frames":%d,"bytes":%d}`,
		status.Recording, status.Directory, status.FrameCount, status.BytesWritten)
}

// previewLoop pulls successive frames and renders each into an 8-bit
// min/max-stretched preview for the WebRTC broadcaster, the same
// stretch fitswriter's debug TIFF path uses, just kept in memory
// instead of written to disk.
func previewLoop(consumer *camconsumer.Consumer, wrtc *webrtc.Server, m *metrics.Metrics, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		arr, err := consumer.ReadNext(200 * time.Millisecond)
		if err != nil {
			if err.Is(ipcerr.NotReady) {
				m.WaitTimeouts.Add(1)
			}
			continue
		}
		if arr == nil {
			continue
		}

		m.FramesDelivered.Add(1)
		if wrtc.ClientCount() > 0 {
			if preview, ok := renderPreview(arr); ok {
				wrtc.Broadcast(preview)
			}
		}
		arr.Detach()
	}
}

func renderPreview(arr *sharedarray.Array) (webrtc.Preview, bool) {
	if arr.ElementType() != sharedarray.Uint16 {
		return webrtc.Preview{}, false
	}
	width := int(arr.DimSize(0))
	height := int(arr.DimSize(1))
	raw := arr.DataPtr()
	n := width * height

	values := make([]uint16, n)
	for i := 0; i < n; i++ {
		values[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := float64(max) - float64(min)

	pixels := make([]byte, n)
	for i, v := range values {
		if span <= 0 {
			pixels[i] = 0
			continue
		}
		pixels[i] = uint8(255 * (float64(v) - float64(min)) / span)
	}

	return webrtc.Preview{
		Width:   width,
		Height:  height,
		Pixels:  pixels,
		Counter: arr.Counter(),
	}, true
}
