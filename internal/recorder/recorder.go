// Package recorder implements a FITS-sequence capture recorder: while
// active it pulls frames from a pkg/camconsumer attachment and saves
// each one through an external.FITSWriter into a per-session directory,
// one file per frame. It runs the pull loop on a background goroutine
// guarded by a WaitGroup, with a small Start/Stop/Status lifecycle on
// top.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taoshm/camerafabric/pkg/camconsumer"
	"github.com/taoshm/camerafabric/pkg/external"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// Recorder saves successive frames from a camconsumer.Consumer as
// individual FITS files under a timestamped session directory.
type Recorder struct {
	mu       sync.RWMutex
	consumer *camconsumer.Consumer
	writer   external.FITSWriter
	basePath string

	recording    bool
	dir          string
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Recorder that will save frames read from consumer
// through writer, into session directories under basePath.
func New(consumer *camconsumer.Consumer, writer external.FITSWriter, basePath string) *Recorder {
	return &Recorder{
		consumer: consumer,
		writer:   writer,
		basePath: basePath,
	}
}

// Start begins a new recording session, returning the session
// directory. It is an error to call Start while already recording.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", fmt.Errorf("already recording")
	}

	timestamp := time.Now().Format("20060102_150405")
	dir := filepath.Join(r.basePath, fmt.Sprintf("session_%s", timestamp))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	r.dir = dir
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.captureLoop(r.stopCh)

	return dir, nil
}

// Stop ends the current recording session and returns its directory.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", fmt.Errorf("not recording")
	}
	dir := r.dir
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	return dir, nil
}

// captureLoop pulls frames until stopCh closes, saving each as its own
// FITS file. A short poll timeout lets it notice the stop signal
// promptly instead of blocking indefinitely on ReadNext.
func (r *Recorder) captureLoop(stopCh chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		arr, err := r.consumer.ReadNext(200 * time.Millisecond)
		if err != nil {
			continue
		}
		if arr == nil {
			continue
		}
		r.saveFrame(arr)
		arr.Detach()
	}
}

func (r *Recorder) saveFrame(arr *sharedarray.Array) {
	r.mu.Lock()
	n := r.frameCount
	dir := r.dir
	r.mu.Unlock()

	path := filepath.Join(dir, fmt.Sprintf("frame_%06d.fits", n))
	if err := r.writer.Save(arr, path, false); err != nil {
		return
	}

	r.mu.Lock()
	r.frameCount++
	r.bytesWritten += uint64(arr.Length()) * uint64(arr.ElementType().ByteSize())
	r.mu.Unlock()
}

// IsRecording reports whether a session is currently active.
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status reports the current recording session's progress.
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return Status{
		Recording:    r.recording,
		Directory:    r.dir,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Status holds the current recording session's progress.
type Status struct {
	Recording    bool
	Directory    string
	FrameCount   uint64
	BytesWritten uint64
	Duration     time.Duration
	StartTime    time.Time
}
