// Package controlserver implements a small XPA-style line-protocol
// server for manual inspection and control of a running producer: one
// newline-terminated command per connection line, one packed-line
// reply, built directly on internal/cmdline's word splitting/packing.
// It is a demonstration/operator convenience only. Nothing in the core
// acquisition or distribution path depends on it, and it never touches
// the frame ring itself: it reads and writes the descriptor's
// configuration and state fields, and can trigger an optional debug
// save through pkg/external.
package controlserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/taoshm/camerafabric/internal/cmdline"
	"github.com/taoshm/camerafabric/internal/logger"
	"github.com/taoshm/camerafabric/pkg/camdesc"
	"github.com/taoshm/camerafabric/pkg/external"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/rawconvert"
	"github.com/taoshm/camerafabric/pkg/roi"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// Config wires a Server to the collaborators it dispatches commands
// to. LatestFrame and the two writers are optional: "save" commands
// fail with Unsupported if the corresponding field is nil.
type Config struct {
	Desc               *camdesc.Descriptor
	SupportedEncodings []string
	FITSWriter         external.FITSWriter
	PreviewWriter      external.DebugPreviewWriter
	LatestFrame        func() (*sharedarray.Array, *ipcerr.Stack)
}

// Server accepts TCP connections and dispatches each line as one
// command. Concurrent connections are independent; all state lives in
// Config.Desc, which already serializes access under its own lock.
type Server struct {
	cfg Config
	ln  net.Listener
}

// New returns a Server ready to Serve.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Serve listens on addr and blocks, handling one goroutine per
// connection, until the listener is closed.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	logger.Info("controlserver", "listening on %s", addr)
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return acceptErr
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := s.Dispatch(scanner.Bytes())
		if _, writeErr := conn.Write([]byte(reply)); writeErr != nil {
			return
		}
	}
}

// Dispatch parses and executes exactly one command line, returning the
// packed reply line. It is exported directly so tests (and anything
// embedding a Server in a different transport) can drive it without a
// real socket.
func (s *Server) Dispatch(line []byte) string {
	words, splitErr := cmdline.Split(line)
	if splitErr != nil {
		return errorReply(splitErr)
	}
	if len(words) == 0 {
		return okReply(nil)
	}

	switch words[0] {
	case "get":
		return s.handleGet(words[1:])
	case "set":
		return s.handleSet(words[1:])
	case "state":
		return s.handleState(words[1:])
	case "save":
		return s.handleSave(words[1:])
	default:
		return errorReply(ipcerr.NewStack().Push("controlserver.Dispatch", ipcerr.BadName))
	}
}

func okReply(fields []string) string {
	return cmdline.Pack(append([]string{"OK"}, fields...))
}

func errorReply(err *ipcerr.Stack) string {
	top, ok := err.Top()
	if !ok {
		return cmdline.Pack([]string{"ERROR", "AssertionFailed"})
	}
	return cmdline.Pack([]string{"ERROR", top.Kind.String(), top.Func})
}

func (s *Server) handleGet(args []string) string {
	if len(args) != 1 {
		return errorReply(ipcerr.NewStack().Push("controlserver.handleGet", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()

	switch args[0] {
	case "geometry":
		xoff, yoff, width, height := d.Geometry()
		return okReply([]string{
			strconv.Itoa(int(xoff)), strconv.Itoa(int(yoff)),
			strconv.Itoa(int(width)), strconv.Itoa(int(height)),
			strconv.Itoa(int(d.SensorWidth())), strconv.Itoa(int(d.SensorHeight())),
		})
	case "config":
		return okReply([]string{
			strconv.FormatFloat(d.Framerate(), 'g', -1, 64),
			strconv.FormatFloat(d.ExposureTime(), 'g', -1, 64),
			strconv.FormatFloat(d.Gain(), 'g', -1, 64),
			strconv.FormatFloat(d.Bias(), 'g', -1, 64),
			strconv.FormatFloat(d.Gamma(), 'g', -1, 64),
			d.PixelType().String(),
			strconv.FormatBool(d.Weighted()),
		})
	case "state":
		return okReply([]string{stateName(d.State())})
	default:
		return errorReply(ipcerr.NewStack().Push("controlserver.handleGet", ipcerr.BadName))
	}
}

func (s *Server) handleSet(args []string) string {
	if len(args) == 0 {
		return errorReply(ipcerr.NewStack().Push("controlserver.handleSet", ipcerr.BadArgument))
	}

	switch args[0] {
	case "geometry":
		return s.setGeometry(args[1:])
	case "rate":
		return s.setRate(args[1:])
	case "gain":
		return s.setScalar(args[1:], (*camdesc.Descriptor).SetGain)
	case "bias":
		return s.setScalar(args[1:], (*camdesc.Descriptor).SetBias)
	case "gamma":
		return s.setScalar(args[1:], (*camdesc.Descriptor).SetGamma)
	case "pixeltype":
		return s.setPixelType(args[1:])
	case "weighted":
		return s.setWeighted(args[1:])
	default:
		return errorReply(ipcerr.NewStack().Push("controlserver.handleSet", ipcerr.BadName))
	}
}

// currentConfig reads the fields roi.Config covers off the descriptor.
// Caller must hold d.Lock.
func currentConfig(d *camdesc.Descriptor) roi.Config {
	xoff, yoff, width, height := d.Geometry()
	return roi.Config{
		Geometry: roi.Geometry{
			XOff: int(xoff), YOff: int(yoff),
			Width: int(width), Height: int(height),
			XBin: 1, YBin: 1,
			SensorW: int(d.SensorWidth()), SensorH: int(d.SensorHeight()),
		},
		PixelEncoding: d.PixelType().String(),
		ExposureTime:  d.ExposureTime(),
		Framerate:     d.Framerate(),
	}
}

func (s *Server) setGeometry(args []string) string {
	if len(args) != 4 {
		return errorReply(ipcerr.NewStack().Push("controlserver.setGeometry", ipcerr.BadArgument))
	}
	xoff, okX := parseInt(args[0])
	yoff, okY := parseInt(args[1])
	width, okW := parseInt(args[2])
	height, okH := parseInt(args[3])
	if !okX || !okY || !okW || !okH {
		return errorReply(ipcerr.NewStack().Push("controlserver.setGeometry", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()

	next := currentConfig(d)
	next.XOff, next.YOff, next.Width, next.Height = xoff, yoff, width, height
	if validErr := roi.Validate(next, s.cfg.SupportedEncodings); validErr != nil {
		return errorReply(validErr)
	}
	d.SetGeometry(int32(xoff), int32(yoff), int32(width), int32(height))
	return okReply(nil)
}

// setRate applies a combined framerate/exposure-time change, honoring
// the two-pass hardware ordering rule of roi.PlanApplyOrder so the
// device never transiently sees exposureTime > 1/framerate.
func (s *Server) setRate(args []string) string {
	if len(args) != 2 {
		return errorReply(ipcerr.NewStack().Push("controlserver.setRate", ipcerr.BadArgument))
	}
	framerate, okF := parseFloat(args[0])
	exposure, okE := parseFloat(args[1])
	if !okF || !okE {
		return errorReply(ipcerr.NewStack().Push("controlserver.setRate", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()

	current := currentConfig(d)
	next := current
	next.Framerate = framerate
	next.ExposureTime = exposure
	if validErr := roi.Validate(next, s.cfg.SupportedEncodings); validErr != nil {
		return errorReply(validErr)
	}

	for _, step := range roi.PlanApplyOrder(current, next) {
		if step.SetFramerate {
			d.SetFramerate(step.Framerate)
		} else {
			d.SetExposureTime(step.ExposureTime)
		}
	}
	return okReply(nil)
}

func (s *Server) setScalar(args []string, set func(*camdesc.Descriptor, float64)) string {
	if len(args) != 1 {
		return errorReply(ipcerr.NewStack().Push("controlserver.setScalar", ipcerr.BadArgument))
	}
	v, ok := parseFloat(args[0])
	if !ok {
		return errorReply(ipcerr.NewStack().Push("controlserver.setScalar", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()
	set(d, v)
	return okReply(nil)
}

func (s *Server) setPixelType(args []string) string {
	if len(args) != 1 {
		return errorReply(ipcerr.NewStack().Push("controlserver.setPixelType", ipcerr.BadArgument))
	}
	enc, ok := parseEncoding(args[0])
	if !ok {
		return errorReply(ipcerr.NewStack().Push("controlserver.setPixelType", ipcerr.BadEncoding))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()

	found := false
	for _, name := range s.cfg.SupportedEncodings {
		if name == enc.String() {
			found = true
			break
		}
	}
	if !found {
		return errorReply(ipcerr.NewStack().Push("controlserver.setPixelType", ipcerr.BadEncoding))
	}
	d.SetPixelType(enc)
	return okReply(nil)
}

func (s *Server) setWeighted(args []string) string {
	if len(args) != 1 {
		return errorReply(ipcerr.NewStack().Push("controlserver.setWeighted", ipcerr.BadArgument))
	}
	v, err := strconv.ParseBool(args[0])
	if err != nil {
		return errorReply(ipcerr.NewStack().Push("controlserver.setWeighted", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()
	d.SetWeighted(v)
	return okReply(nil)
}

func (s *Server) handleState(args []string) string {
	if len(args) != 1 {
		return errorReply(ipcerr.NewStack().Push("controlserver.handleState", ipcerr.BadArgument))
	}

	d := s.cfg.Desc
	if lockErr := d.Lock(); lockErr != nil {
		return errorReply(lockErr)
	}
	defer d.Unlock()

	switch args[0] {
	case "open":
		d.SetState(camdesc.StateOpenIdle)
	case "close":
		d.SetState(camdesc.StateClosed)
	case "start":
		if d.State() == camdesc.StateClosed {
			return errorReply(ipcerr.NewStack().Push("controlserver.handleState", ipcerr.BadDevice))
		}
		d.SetState(camdesc.StateAcquiring)
	case "stop":
		if d.State() == camdesc.StateAcquiring {
			d.SetState(camdesc.StateOpenIdle)
		}
	default:
		return errorReply(ipcerr.NewStack().Push("controlserver.handleState", ipcerr.BadName))
	}
	return okReply(nil)
}

func (s *Server) handleSave(args []string) string {
	if len(args) < 2 {
		return errorReply(ipcerr.NewStack().Push("controlserver.handleSave", ipcerr.BadArgument))
	}
	if s.cfg.LatestFrame == nil {
		return errorReply(ipcerr.NewStack().Push("controlserver.handleSave", ipcerr.Unsupported))
	}

	arr, frameErr := s.cfg.LatestFrame()
	if frameErr != nil {
		return errorReply(frameErr)
	}

	switch args[0] {
	case "fits":
		if s.cfg.FITSWriter == nil {
			return errorReply(ipcerr.NewStack().Push("controlserver.handleSave", ipcerr.Unsupported))
		}
		overwrite := len(args) >= 3 && args[2] == "overwrite"
		if saveErr := s.cfg.FITSWriter.Save(arr, args[1], overwrite); saveErr != nil {
			return errorReply(saveErr)
		}
		return okReply([]string{args[1]})
	case "preview":
		if s.cfg.PreviewWriter == nil {
			return errorReply(ipcerr.NewStack().Push("controlserver.handleSave", ipcerr.Unsupported))
		}
		if saveErr := s.cfg.PreviewWriter.WritePreview(arr, args[1]); saveErr != nil {
			return errorReply(saveErr)
		}
		return okReply([]string{args[1]})
	default:
		return errorReply(ipcerr.NewStack().Push("controlserver.handleSave", ipcerr.BadName))
	}
}

func stateName(st camdesc.State) string {
	switch st {
	case camdesc.StateClosed:
		return "closed"
	case camdesc.StateOpenIdle:
		return "idle"
	case camdesc.StateAcquiring:
		return "acquiring"
	default:
		return "unknown"
	}
}

func parseInt(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// parseEncoding maps a command argument to a rawconvert.Encoding by
// name; it exists only at this presentation boundary, since the core
// package has no reason to parse its own String() output back.
func parseEncoding(name string) (rawconvert.Encoding, bool) {
	for e := rawconvert.Mono8; e <= rawconvert.Unknown; e++ {
		if strings.EqualFold(e.String(), name) {
			return e, e != rawconvert.Unknown
		}
	}
	return rawconvert.Unknown, false
}
