package codec

import (
	"log/slog"
	"sync"
	"time"

	"github.com/driftcam/hwcodec/internal/logging"
)

var decoderLog = logging.L("decoder")

// decoderOutputState is the data shared between a hardware driver's
// asynchronous callback thread and the session's submit thread. The
// callback performs O(1) work under the lock: increment the frame counter
// and, on first observation, record dims/pixel format.
//
// The owning session guarantees the hardware driver is torn down
// (Close/Flush complete) before the state is dropped; Go's GC keeps it
// alive as long as the driver holds a reference, and decoderEngine.Close
// waits for the driver to report teardown before releasing its own
// reference.
type decoderOutputState struct {
	mu sync.Mutex

	count       int64
	hasDims     bool
	dims        Dimensions
	hasFormat   bool
	pixelFormat PixelFormat
	color       ColorMetadata
}

// onFrame is invoked from the hardware driver's callback thread. Null
// image buffers and non-zero status must be filtered out by the driver
// before calling this; it unconditionally counts a frame.
func (s *decoderOutputState) onFrame(dims Dimensions, pf PixelFormat, color ColorMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if !s.hasDims && dims.valid() {
		s.hasDims = true
		s.dims = dims
	}
	if !s.hasFormat && pf != PixelFormatUnknown {
		s.hasFormat = true
		s.pixelFormat = pf
	}
	s.color = color
}

func (s *decoderOutputState) snapshot() (count int64, dims Dimensions, hasDims bool, pf PixelFormat, hasFormat bool, color ColorMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.dims, s.hasDims, s.pixelFormat, s.hasFormat, s.color
}

// hardwareDecoderDriver is the per-backend surface decoderEngine drives.
// VideoToolbox and NVDEC implementations live in
// decoder_videotoolbox_darwin.go and decoder_nvidia.go.
type hardwareDecoderDriver interface {
	// QueryCapability answers decode_supported/hardware_acceleration for
	// codec without creating a session.
	QueryCapability(codec Codec) CapabilityReport

	// CreateSession lazily creates the hardware decoder once parameter
	// sets are known. paramSets is the cache snapshot in deterministic
	// order.
	CreateSession(codec Codec, paramSets [][]byte, requireHardware bool, state *decoderOutputState) error

	// SampleLayout is the packing the backend wants fed to
	// SubmitSample: VT -> AVCC/HVCC, NV -> Annex-B.
	SampleLayout() SampleLayout

	// SubmitSample asynchronously submits one packed sample.
	SubmitSample(sample []byte, pts Timestamp90k) error

	// Flush signals end-of-stream and waits for the asynchronous
	// completion of everything already submitted.
	Flush() error

	Close() error
}

// DecoderConfig configures a DecodeSession.
type DecoderConfig struct {
	Codec           Codec
	FPS             int
	RequireHardware bool
	BackendOptions  any

	// Transform enables the post-decode transform subsystem (C4-C7): when
	// set, every decoded frame passes through a PipelineScheduler before
	// reaching the ready queue. Nil means decoded frames are returned
	// as-is, skipping the pipeline entirely rather than round-tripping
	// through its KeepNative fast path.
	Transform *DecodeTransformOptions
}

// DecodeTransformOptions configures the optional post-decode color
// conversion pipeline. Resize is passed through to the transforms, which
// do not scale frames (see ResizeRequest).
type DecodeTransformOptions struct {
	Color               ColorRequest
	Resize              *ResizeRequest
	Workers             int
	OutputQueueCapacity int
}

// decoderState is the NoDecoder -> DecoderReady -> Drained state machine.
type decoderState int

const (
	decoderStateNoDecoder decoderState = iota
	decoderStateReady
	decoderStateDrained
)

// decoderEngine is the backend-agnostic decode pipeline state machine:
// deferred decoder creation until required parameter sets are
// observed, synchronous submission to an asynchronous hardware callback,
// and delta-summary accounting.
type decoderEngine struct {
	cfg       DecoderConfig
	driver    hardwareDecoderDriver
	assembler *StatefulBitstreamAssembler
	state     *decoderOutputState

	machine       decoderState
	reportedCount int64
	frameIndex    uint64

	nvidiaOpts NvidiaDecoderOptions
	metrics    *slog.Logger
}

func newDecoderEngine(cfg DecoderConfig, driver hardwareDecoderDriver) *decoderEngine {
	e := &decoderEngine{
		cfg:        cfg,
		driver:     driver,
		assembler:  NewStatefulBitstreamAssembler(cfg.Codec),
		state:      &decoderOutputState{},
		nvidiaOpts: nvidiaDecoderOptionsFrom(cfg.BackendOptions),
	}
	if e.nvidiaOpts.ReportMetrics {
		e.metrics = metricsLogger("decoder.nvidia")
	}
	return e
}

// ensureDecoder lazily creates the hardware session once the parameter-set
// cache is complete. Returns ok=false (no error) when the cache is not yet
// complete — a load-bearing silent no-op: callers may feed pre-roll bytes
// blindly and start getting frames once parameter sets arrive.
func (e *decoderEngine) ensureDecoder(op string, cache *ParameterSetCache) (ok bool, err error) {
	if e.machine == decoderStateReady {
		return true, nil
	}
	if e.machine == decoderStateDrained {
		return false, nil
	}
	if !cache.complete() {
		return false, nil
	}
	if e.cfg.RequireHardware {
		report := e.driver.QueryCapability(e.cfg.Codec)
		if !report.DecodeSupported || !report.HardwareAcceleration {
			return false, unsupportedCodec(op, e.cfg.Codec)
		}
	}
	start := time.Now()
	if err := e.driver.CreateSession(e.cfg.Codec, cache.snapshot(), e.cfg.RequireHardware, e.state); err != nil {
		return false, err
	}
	if e.metrics != nil {
		e.metrics.Info("create_session", "codec", e.cfg.Codec.String(), "elapsed", time.Since(start))
	}
	decoderLog.Debug("hardware decoder created", "codec", e.cfg.Codec.String())
	e.machine = decoderStateReady
	return true, nil
}

func (e *decoderEngine) nextPts(pts *Timestamp90k) Timestamp90k {
	if pts != nil {
		return *pts
	}
	fps := e.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	idx := e.frameIndex
	e.frameIndex++
	return Timestamp90k(idx * uint64(90000/fps))
}

// submitAccessUnits packs and submits each access unit, once the decoder
// is ready.
func (e *decoderEngine) submitAccessUnits(op string, aus []AccessUnit) error {
	for _, au := range aus {
		start := time.Now()
		sample := packSample(au, e.driver.SampleLayout())
		pts := e.nextPts(au.Pts)
		if err := e.driver.SubmitSample(sample, pts); err != nil {
			return backendErr(op, err)
		}
		if e.metrics != nil {
			e.metrics.Info("submit_sample", "bytes", len(sample), "pts_90k", pts, "elapsed", time.Since(start))
		}
	}
	return nil
}

// delta computes current_count - reported_count and returns that many
// synthetic Metadata frames carrying the latest known dims/pixel format.
func (e *decoderEngine) delta() []DecodedFrame {
	count, dims, hasDims, pf, hasFormat, color := e.state.snapshot()
	n := count - e.reportedCount
	if n <= 0 {
		e.reportedCount = count
		return nil
	}
	e.reportedCount = count

	out := make([]DecodedFrame, 0, n)
	for i := int64(0); i < n; i++ {
		f := DecodedFrame{Kind: DecodedFrameMetadata}
		if hasDims {
			f.Dims = dims
		}
		if hasFormat {
			f.PixelFormat = pf
		}
		f.Color = color
		out = append(out, f)
	}
	return out
}

// Submit feeds annexB to the assembler, lazily ensures the hardware
// decoder, submits any finalized access units, and returns the frame
// delta observed since the last call.
func (e *decoderEngine) Submit(op string, annexB []byte) ([]DecodedFrame, error) {
	if e.machine == decoderStateDrained {
		return nil, invalidInput(op, "session already drained")
	}

	aus := e.assembler.PushChunk(annexB)
	cache := e.assembler.CacheSnapshot()

	ready, err := e.ensureDecoder(op, cache)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	if err := e.submitAccessUnits(op, aus); err != nil {
		return nil, err
	}
	return e.delta(), nil
}

// Flush submits the final AU if any, signals EOS, waits for asynchronous
// completion, then returns the remaining delta.
func (e *decoderEngine) Flush(op string) ([]DecodedFrame, error) {
	if e.machine == decoderStateDrained {
		return nil, nil
	}

	aus, err := e.assembler.Flush()
	if err != nil {
		return nil, err
	}
	cache := e.assembler.CacheSnapshot()

	ready, err := e.ensureDecoder(op, cache)
	if err != nil {
		return nil, err
	}
	if ready {
		if err := e.submitAccessUnits(op, aus); err != nil {
			return nil, err
		}
		if err := e.driver.Flush(); err != nil {
			return nil, backendErr(op, err)
		}
	}
	e.machine = decoderStateDrained
	return e.delta(), nil
}

// Summary returns the monotone decode accounting.
func (e *decoderEngine) Summary() DecodeSummary {
	count, dims, hasDims, pf, hasFormat, _ := e.state.snapshot()
	return DecodeSummary{
		DecodedFrames: count,
		HasDims:       hasDims,
		Width:         dims.Width,
		Height:        dims.Height,
		HasFormat:     hasFormat,
		PixelFormat:   pf,
	}
}

func (e *decoderEngine) QueryCapability() CapabilityReport {
	return e.driver.QueryCapability(e.cfg.Codec)
}

func (e *decoderEngine) Close() error {
	return e.driver.Close()
}
