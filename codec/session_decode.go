package codec

import (
	"time"

	"github.com/driftcam/hwcodec/internal/logging"
)

var sessionLog = logging.L("session")

// DecodeSession is the public decode façade: it normalizes
// BitstreamInput, resolves a backend (Auto or explicit), drives the
// backend-agnostic decoderEngine, optionally post-processes decoded
// frames through the transform pipeline, and exposes the results through
// a one-at-a-time TryReap/ReapTimeout contract.
//
// Submit/TryReap/Flush are not safe to call concurrently on the same
// session; internal components (the callback thread, the transform
// dispatcher/scheduler) run their own goroutines.
type DecodeSession struct {
	cfg     DecoderConfig
	backend BackendKind
	engine  *decoderEngine

	ready *boundedQueue[DecodedFrame]

	transform *PipelineScheduler
	transOpts *DecodeTransformOptions
}

const decodeReadyQueueCapacity = 256

// NewDecodeSession resolves backend (Auto or explicit) and constructs the
// session. A Codec other than H264/HEVC is rejected with UnsupportedCodec;
// otherwise construction always succeeds: an Auto/explicit
// resolution that finds no qualifying backend binds an unsupportedDecoderDriver
// whose submit/flush calls fail with UnsupportedCodec/UnsupportedConfig.
func NewDecodeSession(backend BackendKind, cfg DecoderConfig) (*DecodeSession, error) {
	if !cfg.Codec.valid() {
		return nil, unsupportedCodec("decode_session.new", cfg.Codec)
	}

	driver, resolved := resolveDecodeBackend(backend, cfg.Codec, cfg.RequireHardware)
	s := &DecodeSession{
		cfg:     cfg,
		backend: resolved,
		engine:  newDecoderEngine(cfg, driver),
		ready:   newBoundedQueue[DecodedFrame](getEnvConfig().DecodeReadyQueueCapacity),
	}
	if resolved != Nvidia {
		s.engine.metrics = nil
	}

	if cfg.Transform != nil {
		env := getEnvConfig()
		s.transOpts = cfg.Transform
		workers := cfg.Transform.Workers
		if workers < 1 {
			workers = env.TransformWorkers
		}
		outCap := cfg.Transform.OutputQueueCapacity
		if outCap < 1 {
			outCap = env.TransformQueueCapacity
		}
		adapter := newBackendTransformAdapter(workers, outCap, resolveGPUConverter(resolved))
		s.transform = NewPipelineScheduler(adapter)
	}

	sessionLog.Info("decode session created", "codec", cfg.Codec.String(), "backend", resolved.String())
	return s, nil
}

// resolveGPUConverter picks the platform converter for the resolved
// backend kind; VideoToolbox sessions get Metal, Nvidia sessions get
// CUDA, and an Unsupported/Auto-miss backend gets no GPU path (the CPU
// fallback handles every frame). HWCODEC_TRANSFORM_KERNEL can force the
// choice: "cpu" disables the GPU path, a kernel name that isn't this
// platform's does the same.
func resolveGPUConverter(backend BackendKind) gpuConverter {
	if backend != VideoToolbox && backend != Nvidia {
		return nil
	}
	kernel := getEnvConfig().TransformKernel
	if kernel != "auto" && kernel != platformGPUKernelName() {
		return nil
	}
	return newPlatformGPUConverter()
}

// transformSyncTimeout bounds how long pushFrames/Flush wait on
// RecvTimeout after a Submit. The session drives the scheduler
// one task at a time, so this is a local round trip through an idle
// worker, not a real wait on hardware.
const transformSyncTimeout = 2 * time.Second

// submitTransform runs one frame through the transform scheduler's
// Submit/RecvTimeout pair synchronously: the session only ever has one
// outstanding task, so collapsing the two stages here is a caller-side
// choice, not a change to the scheduler's async contract.
func (s *DecodeSession) submitTransform(f DecodedFrame) (DecodedFrame, error) {
	in := TransformInput{Frame: f, Color: s.transOpts.Color, Resize: s.transOpts.Resize}
	if err := s.transform.Submit(in); err != nil {
		return DecodedFrame{}, err
	}
	result, ok := s.transform.RecvTimeout(transformSyncTimeout)
	if !ok {
		return DecodedFrame{}, temporaryBackpressure("decode_session.submit")
	}
	return result.Unit, result.Err
}

func (s *DecodeSession) pushFrames(frames []DecodedFrame) error {
	for _, f := range frames {
		out := f
		if s.transform != nil {
			var err error
			out, err = s.submitTransform(f)
			if err != nil {
				return err
			}
		}
		if err := s.ready.TrySend(out); err != nil {
			return temporaryBackpressure("decode_session.submit")
		}
	}
	return nil
}

// Submit normalizes in to Annex-B, feeds the decode pipeline, and enqueues
// any resulting frames onto the ready queue.
func (s *DecodeSession) Submit(in BitstreamInput) error {
	const op = "decode_session.submit"
	if in.codec != s.cfg.Codec {
		return invalidInput(op, "bitstream input codec does not match session codec")
	}

	annexB, err := in.normalizeToAnnexB(op)
	if err != nil {
		return err
	}

	frames, err := s.engine.Submit(op, annexB)
	if err != nil {
		return err
	}
	return s.pushFrames(frames)
}

// TryReap pops at most one ready frame without blocking.
func (s *DecodeSession) TryReap() (DecodedFrame, bool, error) {
	frame, err := s.ready.TryRecv()
	switch err.(type) {
	case nil:
		return frame, true, nil
	case queueTimeout:
		return DecodedFrame{}, false, nil
	case queueClosed:
		return DecodedFrame{}, false, nil
	default:
		return DecodedFrame{}, false, err
	}
}

// ReapTimeout behaves identically to TryReap: the decode fast path never
// blocks on hardware completion, since frames appear synchronously inside
// Submit; true blocking belongs to the transform path's RecvTimeout.
func (s *DecodeSession) ReapTimeout(_ time.Duration) (DecodedFrame, bool, error) {
	return s.TryReap()
}

// Flush drains the ready queue, then runs the assembler/decoder flush
// algorithm and appends its output, returning every frame produced by
// this call plus everything not yet reaped.
func (s *DecodeSession) Flush() ([]DecodedFrame, error) {
	const op = "decode_session.flush"
	var out []DecodedFrame
	for {
		frame, err := s.ready.TryRecv()
		if err != nil {
			break
		}
		out = append(out, frame)
	}

	frames, err := s.engine.Flush(op)
	if err != nil {
		return out, err
	}
	if s.transform != nil {
		for _, f := range frames {
			unit, err := s.submitTransform(f)
			if err != nil {
				return out, err
			}
			out = append(out, unit)
		}
		return out, nil
	}
	return append(out, frames...), nil
}

// Summary returns the monotone decode accounting.
func (s *DecodeSession) Summary() DecodeSummary {
	return s.engine.Summary()
}

// QueryCapability answers whether codec is supported on the resolved
// backend without mutating session state. For the session's own codec
// this reflects the bound driver; for any other codec it probes a fresh
// adapter for the resolved backend.
func (s *DecodeSession) QueryCapability(codec Codec) CapabilityReport {
	if codec == s.cfg.Codec {
		return s.engine.QueryCapability()
	}
	driver, _ := resolveDecodeBackend(s.backend, codec, false)
	defer driver.Close()
	return driver.QueryCapability(codec)
}

// Backend returns the backend this session resolved to (useful after
// constructing with Auto).
func (s *DecodeSession) Backend() BackendKind {
	return s.backend
}

// Close tears down the hardware decoder and, if present, the transform
// pipeline.
func (s *DecodeSession) Close() error {
	if s.transform != nil {
		s.transform.Close()
	}
	s.ready.Close()
	return s.engine.Close()
}
