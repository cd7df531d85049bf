package codec

import (
	"sync/atomic"
	"time"
)

// chunkEnvelope tags a buffered-but-not-yet-reaped chunk with the
// generation it was produced under, so an immediate session switch can
// drop pre-switch output before it reaches the caller. Gating is active
// only when NvidiaEncoderOptions.EnablePipelineScheduler is set; without
// it every envelope is live.
type chunkEnvelope struct {
	gen   uint64
	chunk EncodedChunk
}

// EncodeSession is the public encode façade: it resolves a backend (Auto
// or explicit), buffers raw frames behind the backend-agnostic
// encoderEngine, and exposes encoded chunks through a one-at-a-time
// TryReap/ReapTimeout contract.
//
// Submit/TryReap/Flush are not safe to call concurrently on the same
// session.
type EncodeSession struct {
	cfg     EncoderConfig
	backend BackendKind
	engine  *encoderEngine

	ready *boundedQueue[chunkEnvelope]

	genGate    bool
	generation atomic.Uint64
}

const encodeReadyQueueCapacity = 256

// NewEncodeSession resolves backend (Auto or explicit) and constructs the
// session. A Codec other than H264/HEVC is rejected with UnsupportedCodec;
// otherwise construction always succeeds: an Auto/explicit resolution that finds no
// qualifying backend binds an unsupportedEncoderDriver whose Flush calls
// fail with UnsupportedCodec/UnsupportedConfig.
func NewEncodeSession(backend BackendKind, cfg EncoderConfig) (*EncodeSession, error) {
	if !cfg.Codec.valid() {
		return nil, unsupportedCodec("encode_session.new", cfg.Codec)
	}

	driver, resolved := resolveEncodeBackend(backend, cfg.Codec, cfg.RequireHardware)
	queueCap := getEnvConfig().EncodeReadyQueueCapacity
	nvidiaOpts := nvidiaEncoderOptionsFrom(cfg.BackendOptions)
	genGate := resolved == Nvidia && nvidiaOpts.EnablePipelineScheduler
	if genGate && nvidiaOpts.PipelineQueueCapacity > 0 {
		queueCap = nvidiaOpts.PipelineQueueCapacity
	}

	s := &EncodeSession{
		cfg:     cfg,
		backend: resolved,
		engine:  newEncoderEngine(cfg, driver, resolved),
		ready:   newBoundedQueue[chunkEnvelope](queueCap),
		genGate: genGate,
	}
	s.generation.Store(1)

	encoderLog.Info("encode session created", "codec", cfg.Codec.String(), "backend", resolved.String(), "pipeline_scheduler", genGate)
	return s, nil
}

// EncodeFrame is the argument to Submit: a raw frame buffer plus the
// per-frame metadata the buffered encode model needs.
type EncodeFrame struct {
	Dims          Dimensions
	Pts           *Timestamp90k
	Buffer        RawFrameBuffer
	ForceKeyframe bool
}

// Submit buffers frame; nothing is sent to hardware until Flush. The
// hardware session requires dimensions at creation, so commitment is
// delayed until the first flush.
func (s *EncodeSession) Submit(frame EncodeFrame) error {
	const op = "encode_session.submit"
	return s.engine.Submit(op, frame.Dims, frame.Pts, frame.Buffer, frame.ForceKeyframe)
}

// live reports whether env was produced under the session's current
// generation. Stale envelopes are silently dropped rather than surfaced:
// pre-switch output is noise, not an error.
func (s *EncodeSession) live(env chunkEnvelope) bool {
	return !s.genGate || env.gen == s.generation.Load()
}

// TryReap pops at most one ready chunk without blocking, skipping any
// stale (pre-switch) envelopes it encounters.
func (s *EncodeSession) TryReap() (EncodedChunk, bool, error) {
	for {
		env, err := s.ready.TryRecv()
		switch err.(type) {
		case nil:
			if !s.live(env) {
				continue
			}
			return env.chunk, true, nil
		case queueTimeout:
			return EncodedChunk{}, false, nil
		case queueClosed:
			return EncodedChunk{}, false, nil
		default:
			return EncodedChunk{}, false, err
		}
	}
}

// ReapTimeout blocks up to timeout for a ready chunk, skipping any stale
// (pre-switch) envelopes it encounters.
func (s *EncodeSession) ReapTimeout(timeout time.Duration) (EncodedChunk, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		env, err := s.ready.RecvTimeout(remaining)
		switch err.(type) {
		case nil:
			if !s.live(env) {
				if time.Now().After(deadline) {
					return EncodedChunk{}, false, nil
				}
				continue
			}
			return env.chunk, true, nil
		case queueTimeout:
			return EncodedChunk{}, false, nil
		case queueClosed:
			return EncodedChunk{}, false, nil
		default:
			return EncodedChunk{}, false, err
		}
	}
}

// Flush drives the buffered frames through the hardware encoder and
// returns every chunk produced, in encoder output order, after any chunks
// still queued from an earlier interrupted flush. Produced chunks are
// routed through the ready queue so that, if the flush fails partway, the
// output already collected stays reapable via TryReap/ReapTimeout instead
// of being lost with the error.
func (s *EncodeSession) Flush() ([]EncodedChunk, error) {
	const op = "encode_session.flush"
	var out []EncodedChunk
	drain := func() {
		for {
			env, err := s.ready.TryRecv()
			if err != nil {
				return
			}
			if s.live(env) {
				out = append(out, env.chunk)
			}
		}
	}

	chunks, flushErr := s.engine.Flush(op)
	gen := s.generation.Load()
	for _, c := range chunks {
		if s.ready.TrySend(chunkEnvelope{gen: gen, chunk: c}) != nil {
			// Full: make room by draining what is already queued, keeping
			// FIFO order, then retry once. A closed queue delivers direct.
			drain()
			if s.ready.TrySend(chunkEnvelope{gen: gen, chunk: c}) != nil {
				out = append(out, c)
			}
		}
	}
	if flushErr != nil {
		return out, flushErr
	}
	drain()
	return out, nil
}

// QueryCapability answers whether codec is supported on the resolved
// backend without mutating session state.
func (s *EncodeSession) QueryCapability(codec Codec) CapabilityReport {
	if codec == s.cfg.Codec {
		return s.engine.QueryCapability()
	}
	driver, _ := resolveEncodeBackend(s.backend, codec, false)
	defer driver.Close()
	return driver.QueryCapability(codec)
}

// RequestSessionSwitch forwards to the bound backend; backends that don't
// implement it return UnsupportedConfig. When the pipeline
// scheduler is enabled and the switch is immediate, this also advances the
// session's generation so any already-buffered pre-switch chunks are
// dropped instead of handed to the caller.
func (s *EncodeSession) RequestSessionSwitch(req SessionSwitchRequest) error {
	if err := s.engine.RequestSessionSwitch(req); err != nil {
		return err
	}
	if s.genGate && req.Mode == SwitchImmediate {
		s.generation.Add(1)
	}
	return nil
}

// Backend returns the backend this session resolved to (useful after
// constructing with Auto).
func (s *EncodeSession) Backend() BackendKind {
	return s.backend
}

// Close tears down the hardware encoder.
func (s *EncodeSession) Close() error {
	s.ready.Close()
	return s.engine.Close()
}
