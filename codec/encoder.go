package codec

import (
	"log/slog"
	"time"

	"github.com/driftcam/hwcodec/internal/logging"
)

var encoderLog = logging.L("encoder")

// SessionSwitchMode controls when a requested session switch takes effect.
type SessionSwitchMode int

const (
	SwitchImmediate SessionSwitchMode = iota
	SwitchOnNextKeyframe
	SwitchDrainThenSwap
)

// NvidiaSessionSwitch and VideoToolboxSessionSwitch are the per-backend
// session-switch payloads.
type NvidiaSessionSwitch struct {
	GOPLength          *int
	FrameIntervalP     *int
	ForceIDROnActivate bool
}

type VideoToolboxSessionSwitch struct {
	ForceKeyframeOnActivate bool
}

// SessionSwitchRequest bundles a backend-specific payload with a mode.
type SessionSwitchRequest struct {
	Nvidia       *NvidiaSessionSwitch
	VideoToolbox *VideoToolboxSessionSwitch
	Mode         SessionSwitchMode
}

// hardwareEncoderDriver is the per-backend surface encoderEngine drives.
type hardwareEncoderDriver interface {
	QueryCapability(codec Codec) CapabilityReport

	// CreateSession is called lazily on the first Flush, once dims are
	// known.
	CreateSession(codec Codec, dims Dimensions, fps int, requireHardware bool) error

	// Configure applies the fixed per-session settings.
	Configure(realTime bool, expectedFrameRate int, maxKeyframeInterval int) error

	// SubmitFrame pushes one frame. The busy/need-more-input retry loop
	// lives in encoderEngine; this method only classifies the condition
	// via the sentinel error types below.
	SubmitFrame(argb []byte, pts Timestamp90k, forceKeyframe bool) (produced bool, err error)

	// ReadOutput reads one produced bitstream chunk. ok=false with err=nil
	// means "nothing ready yet"; the LockBusy retry loop is handled by the
	// caller.
	ReadOutput() (chunk []byte, isKeyframe bool, ok bool, err error)

	// SignalEndOfStream starts the drain; caller retries on
	// Busy/NeedMoreInput.
	SignalEndOfStream() (produced bool, err error)

	// RequestSessionSwitch returns ErrUnsupportedConfig-wrapped error if
	// the backend doesn't implement it.
	RequestSessionSwitch(req SessionSwitchRequest) error

	Close() error
}

// encoderBusy/encoderNeedMoreInput/encoderLockBusy are sentinel error
// values hardware driver implementations return to signal a retryable
// condition to encoderEngine's retry loops.
type encoderBusy struct{}

func (encoderBusy) Error() string { return "encoder busy" }

type encoderNeedMoreInput struct{}

func (encoderNeedMoreInput) Error() string { return "encoder needs more input" }

type encoderLockBusy struct{}

func (encoderLockBusy) Error() string { return "output lock busy" }

// EncoderConfig configures an EncodeSession.
type EncoderConfig struct {
	Codec           Codec
	FPS             int
	RequireHardware bool
	BackendOptions  any
}

// bufferedFrame is what EncodeSession.Submit records between flushes:
// dimensions, optional pts, and the payload needed to build the encoder
// input at flush time.
type bufferedFrame struct {
	dims          Dimensions
	pts           *Timestamp90k
	buffer        RawFrameBuffer
	forceKeyframe bool
}

// encoderEngine is the backend-agnostic encode pipeline state machine:
// buffer frames until flush; on flush, lazily create a hardware session
// sized to the first frame's dimensions; submit every frame with
// busy/retry; drain to end-of-stream.
type encoderEngine struct {
	cfg     EncoderConfig
	driver  hardwareEncoderDriver
	backend BackendKind

	created bool
	dims    Dimensions

	buffered []bufferedFrame
	frameIdx uint64
	drained  bool

	nvidiaOpts NvidiaEncoderOptions
	credits    *InFlightCredits
	metrics    *slog.Logger
}

func newEncoderEngine(cfg EncoderConfig, driver hardwareEncoderDriver, backend BackendKind) *encoderEngine {
	e := &encoderEngine{cfg: cfg, driver: driver, backend: backend}
	if backend == Nvidia {
		e.nvidiaOpts = nvidiaEncoderOptionsFrom(cfg.BackendOptions)
		e.credits = NewInFlightCredits(e.nvidiaOpts.MaxInFlightOutputs)
		if e.nvidiaOpts.ReportMetrics {
			e.metrics = metricsLogger("encoder.nvidia")
		}
	}
	return e
}

// Submit validates and buffers a frame; the hardware session is not
// touched until Flush.
func (e *encoderEngine) Submit(op string, dims Dimensions, pts *Timestamp90k, buf RawFrameBuffer, forceKeyframe bool) error {
	if e.drained {
		return invalidInput(op, "session already drained")
	}
	if !dims.valid() {
		return invalidInput(op, "zero or negative dimensions")
	}
	argb, ok := buf.argbBytes()
	if !ok {
		return invalidInput(op, "encoder only accepts Argb8888/Argb8888Shared buffers")
	}
	if len(argb) < dims.Width*dims.Height*4 {
		return invalidInput(op, "ARGB buffer shorter than width*height*4")
	}
	if e.created && (dims.Width != e.dims.Width || dims.Height != e.dims.Height) {
		return invalidInput(op, "frame dimensions changed mid flush-cycle")
	}
	if len(e.buffered) == 0 {
		e.dims = dims
	} else if dims.Width != e.dims.Width || dims.Height != e.dims.Height {
		return invalidInput(op, "frame dimensions must be uniform within a flush cycle")
	}
	if e.credits != nil && !e.credits.TryAcquire() {
		return temporaryBackpressure(op)
	}
	e.buffered = append(e.buffered, bufferedFrame{dims: dims, pts: pts, buffer: buf, forceKeyframe: forceKeyframe})
	return nil
}

const (
	encoderRetrySleep    = 1 * time.Millisecond
	encoderDrainMaxTries = 16
)

func (e *encoderEngine) nextPts(pts *Timestamp90k, idx int) Timestamp90k {
	if pts != nil {
		return *pts
	}
	fps := e.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	v := int64(idx) * int64(90000/fps)
	if v < 0 {
		v = 0
	}
	return Timestamp90k(v)
}

// Flush creates the hardware session if needed, submits every buffered
// frame, signals end-of-stream, and drains remaining output.
func (e *encoderEngine) Flush(op string) ([]EncodedChunk, error) {
	if len(e.buffered) == 0 {
		return nil, nil
	}

	// Each buffered frame holds one credit; frames discarded by an early
	// return hand theirs back here.
	heldCredits := len(e.buffered)
	if e.credits != nil {
		defer func() {
			for ; heldCredits > 0; heldCredits-- {
				e.credits.Release()
			}
		}()
	}

	if !e.created {
		if e.cfg.RequireHardware {
			report := e.driver.QueryCapability(e.cfg.Codec)
			if !report.EncodeSupported || !report.HardwareAcceleration {
				e.buffered = nil
				return nil, unsupportedCodec(op, e.cfg.Codec)
			}
		}
		if err := e.driver.CreateSession(e.cfg.Codec, e.dims, e.cfg.FPS, e.cfg.RequireHardware); err != nil {
			e.buffered = nil
			return nil, err
		}
		fps := e.cfg.FPS
		if fps <= 0 {
			fps = 30
		}
		keyframeInterval := 2 * fps
		if e.nvidiaOpts.GopLength != nil && *e.nvidiaOpts.GopLength > 0 {
			keyframeInterval = *e.nvidiaOpts.GopLength
		}
		if err := e.driver.Configure(false, fps, keyframeInterval); err != nil {
			e.buffered = nil
			return nil, backendErr(op, err)
		}
		e.created = true
	}

	var chunks []EncodedChunk
	frames := e.buffered
	e.buffered = nil

	for i, bf := range frames {
		argb, _ := bf.buffer.argbBytes()
		pts := e.nextPts(bf.pts, i)
		forceKey := bf.forceKeyframe || i == 0
		start := time.Now()

		for {
			produced, err := e.driver.SubmitFrame(argb, pts, forceKey)
			if err == nil {
				if produced {
					if err := e.drainOne(op, &chunks, &pts); err != nil {
						return chunks, err
					}
				}
				break
			}
			switch err.(type) {
			case encoderBusy:
				time.Sleep(encoderRetrySleep)
				continue
			case encoderNeedMoreInput:
			default:
				return chunks, backendErr(op, err)
			}
			break
		}
		if e.metrics != nil {
			e.metrics.Info("submit_frame", "pts_90k", pts, "elapsed", time.Since(start))
		}
		if e.credits != nil {
			e.credits.Release()
			heldCredits--
		}
		e.frameIdx++
	}

	for {
		produced, err := e.driver.SignalEndOfStream()
		if err == nil {
			if produced {
				if err := e.drainOne(op, &chunks, nil); err != nil {
					return chunks, err
				}
			}
			break
		}
		switch err.(type) {
		case encoderBusy, encoderNeedMoreInput:
			time.Sleep(encoderRetrySleep)
			continue
		default:
			return chunks, backendErr(op, err)
		}
	}

	for attempt := 0; attempt < encoderDrainMaxTries; attempt++ {
		bytes, isKey, ok, err := e.driver.ReadOutput()
		if err != nil {
			switch err.(type) {
			case encoderLockBusy, encoderBusy:
				break
			default:
				return chunks, backendErr(op, err)
			}
			break
		}
		if !ok {
			break
		}
		if len(bytes) > 0 {
			chunks = append(chunks, e.makeChunk(bytes, isKey, nil))
		}
	}

	return chunks, nil
}

// drainOne reads exactly one produced output, retrying on LockBusy. pts is
// the timestamp of the frame whose SubmitFrame produced this output; nil
// when the output isn't attributable to a specific submitted frame (the
// post-EOS drain).
func (e *encoderEngine) drainOne(op string, chunks *[]EncodedChunk, pts *Timestamp90k) error {
	for {
		bytes, isKey, ok, err := e.driver.ReadOutput()
		if err != nil {
			if _, busy := err.(encoderLockBusy); busy {
				time.Sleep(encoderRetrySleep)
				continue
			}
			return backendErr(op, err)
		}
		if !ok {
			return nil
		}
		if len(bytes) > 0 {
			*chunks = append(*chunks, e.makeChunk(bytes, isKey, pts))
		}
		return nil
	}
}

func (e *encoderEngine) makeChunk(bytes []byte, isKeyframe bool, pts *Timestamp90k) EncodedChunk {
	return EncodedChunk{
		Codec:      e.cfg.Codec,
		Layout:     layoutFor(e.backend, e.cfg.Codec),
		Bytes:      bytes,
		Pts:        pts,
		IsKeyframe: isKeyframe,
	}
}

func (e *encoderEngine) QueryCapability() CapabilityReport {
	return e.driver.QueryCapability(e.cfg.Codec)
}

func (e *encoderEngine) RequestSessionSwitch(req SessionSwitchRequest) error {
	if !e.created {
		return unsupportedConfig("encoder.request_session_switch", "no hardware session created yet")
	}
	return e.driver.RequestSessionSwitch(req)
}

// Close tears down the hardware session. When SafeLifetimeMode is set, it
// first drains any output the driver still has buffered so Close never
// races a pending callback against context teardown.
func (e *encoderEngine) Close() error {
	e.drained = true
	if e.nvidiaOpts.SafeLifetimeMode && e.created {
		for attempt := 0; attempt < encoderDrainMaxTries; attempt++ {
			_, _, ok, err := e.driver.ReadOutput()
			if err != nil || !ok {
				break
			}
		}
	}
	return e.driver.Close()
}
