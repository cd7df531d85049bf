package codec

import "testing"

// fakeEncoderDriver is a synchronous stand-in for hardwareEncoderDriver:
// every SubmitFrame immediately produces one output chunk, emulating
// hardware without busy/retry.
type fakeEncoderDriver struct {
	created bool
	dims    Dimensions
	pending [][]byte
	idx     int
	closed  bool
}

func (f *fakeEncoderDriver) QueryCapability(Codec) CapabilityReport {
	return CapabilityReport{EncodeSupported: true, HardwareAcceleration: true}
}

func (f *fakeEncoderDriver) CreateSession(codec Codec, dims Dimensions, fps int, requireHardware bool) error {
	f.created = true
	f.dims = dims
	return nil
}

func (f *fakeEncoderDriver) Configure(realTime bool, expectedFrameRate int, maxKeyframeInterval int) error {
	return nil
}

func (f *fakeEncoderDriver) SubmitFrame(argb []byte, pts Timestamp90k, forceKeyframe bool) (bool, error) {
	chunk := []byte{byte(f.idx), byte(f.idx >> 8)}
	f.pending = append(f.pending, chunk)
	f.idx++
	return true, nil
}

func (f *fakeEncoderDriver) ReadOutput() ([]byte, bool, bool, error) {
	if len(f.pending) == 0 {
		return nil, false, false, nil
	}
	chunk := f.pending[0]
	f.pending = f.pending[1:]
	isKey := f.idx-len(f.pending) == 1
	return chunk, isKey, true, nil
}

func (f *fakeEncoderDriver) SignalEndOfStream() (bool, error) { return false, nil }

func (f *fakeEncoderDriver) RequestSessionSwitch(SessionSwitchRequest) error {
	return unsupportedConfig("encoder.request_session_switch", "fake driver does not implement switching")
}

func (f *fakeEncoderDriver) Close() error { f.closed = true; return nil }

func newTestEncodeSession(cfg EncoderConfig, driver hardwareEncoderDriver, backend BackendKind) *EncodeSession {
	s := &EncodeSession{
		cfg:     cfg,
		backend: backend,
		engine:  newEncoderEngine(cfg, driver, backend),
		ready:   newBoundedQueue[chunkEnvelope](256),
	}
	s.generation.Store(1)
	return s
}

// TestEncodeSessionScenario5 submits 30 synthetic ARGB frames at
// 640x360/30fps H.264: no output appears until Flush, Flush is non-empty,
// the first chunk is a keyframe, and every chunk carries the configured
// codec/layout.
func TestEncodeSessionScenario5(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	driver := &fakeEncoderDriver{}
	s := newTestEncodeSession(cfg, driver, VideoToolbox)
	defer s.Close()

	dims := Dimensions{Width: 640, Height: 360}
	frameBytes := make([]byte, dims.Width*dims.Height*4)
	for i := 0; i < 30; i++ {
		err := s.Submit(EncodeFrame{Dims: dims, Buffer: Argb8888(frameBytes)})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if _, ok, _ := s.TryReap(); ok {
			t.Fatalf("submit %d produced output before flush", i)
		}
	}

	chunks, err := s.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("flush should return a non-empty chunk list")
	}
	if !chunks[0].IsKeyframe {
		t.Fatal("first chunk should be a keyframe")
	}
	for i, c := range chunks {
		if c.Codec != H264 {
			t.Fatalf("chunk %d codec = %v, want H264", i, c.Codec)
		}
		if c.Layout != LayoutAvcc {
			t.Fatalf("chunk %d layout = %v, want Avcc (VideoToolbox+H264)", i, c.Layout)
		}
		if c.Pts == nil {
			t.Fatalf("chunk %d pts = nil, want the submitting frame's synthetic pts", i)
		}
		want := Timestamp90k(int64(i) * int64(90000/30))
		if *c.Pts != want {
			t.Fatalf("chunk %d pts = %d, want %d", i, *c.Pts, want)
		}
	}
	if !driver.created {
		t.Fatal("hardware session should be created on first flush")
	}
	if driver.dims != dims {
		t.Fatalf("hardware session dims = %+v, want %+v", driver.dims, dims)
	}
}

func TestEncodeSessionFlushOnEmptyStateReturnsEmptyList(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	s := newTestEncodeSession(cfg, &fakeEncoderDriver{}, Nvidia)
	defer s.Close()

	chunks, err := s.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("got %d chunks, want 0", len(chunks))
	}
}

func TestEncodeSessionRejectsNonARGBBuffers(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	s := newTestEncodeSession(cfg, &fakeEncoderDriver{}, Nvidia)
	defer s.Close()

	dims := Dimensions{Width: 64, Height: 64}
	err := s.Submit(EncodeFrame{Dims: dims, Buffer: Nv12Frame(make([]byte, dims.Width*dims.Height*3/2), dims.Width)})
	if err == nil {
		t.Fatal("expected InvalidInput for an Nv12 encode buffer")
	}
	cErr, ok := err.(*Error)
	if !ok || cErr.Kind != ErrKindInvalidInput {
		t.Fatalf("got %v, want InvalidInput", err)
	}
}

func TestEncodeSessionRejectsZeroDimensions(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	s := newTestEncodeSession(cfg, &fakeEncoderDriver{}, Nvidia)
	defer s.Close()

	err := s.Submit(EncodeFrame{Dims: Dimensions{Width: 0, Height: 64}, Buffer: Argb8888(make([]byte, 64*64*4))})
	if err == nil {
		t.Fatal("expected InvalidInput for zero width")
	}
}

func TestEncodeSessionRejectsMismatchedDimensionsMidCycle(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	s := newTestEncodeSession(cfg, &fakeEncoderDriver{}, Nvidia)
	defer s.Close()

	if err := s.Submit(EncodeFrame{Dims: Dimensions{Width: 64, Height: 64}, Buffer: Argb8888(make([]byte, 64*64*4))}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := s.Submit(EncodeFrame{Dims: Dimensions{Width: 32, Height: 32}, Buffer: Argb8888(make([]byte, 32*32*4))})
	if err == nil {
		t.Fatal("expected InvalidInput for dimensions changing mid flush-cycle")
	}
}

// failingEncoderDriver produces one chunk for its first frame, then fails
// the next submit, so tests can observe a flush interrupted partway.
type failingEncoderDriver struct {
	fakeEncoderDriver
	submits int
}

func (f *failingEncoderDriver) SubmitFrame(argb []byte, pts Timestamp90k, forceKeyframe bool) (bool, error) {
	f.submits++
	if f.submits > 1 {
		return false, unsupportedConfig("encoder.submit", "forced failure")
	}
	return f.fakeEncoderDriver.SubmitFrame(argb, pts, forceKeyframe)
}

func submitSyntheticFrames(t *testing.T, s *EncodeSession, n int) {
	t.Helper()
	dims := Dimensions{Width: 64, Height: 64}
	buf := make([]byte, dims.Width*dims.Height*4)
	for i := 0; i < n; i++ {
		if err := s.Submit(EncodeFrame{Dims: dims, Buffer: Argb8888(buf)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
}

// TestEncodeSessionFlushErrorLeavesProducedChunksForReap: when a flush
// fails partway, output already produced stays on the ready queue and is
// returned by a later TryReap instead of being lost with the error.
func TestEncodeSessionFlushErrorLeavesProducedChunksForReap(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	s := newTestEncodeSession(cfg, &failingEncoderDriver{}, Nvidia)
	defer s.Close()

	submitSyntheticFrames(t, s, 2)
	if _, err := s.Flush(); err == nil {
		t.Fatal("expected the second frame's forced failure to surface")
	}

	chunk, ok, err := s.TryReap()
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if !ok {
		t.Fatal("the chunk produced before the failure should be reapable")
	}
	if chunk.Codec != H264 || chunk.Layout != LayoutAnnexB {
		t.Fatalf("reaped chunk = %+v, want H264/AnnexB", chunk)
	}
	if _, ok, _ := s.TryReap(); ok {
		t.Fatal("only one chunk was produced before the failure")
	}
}

// TestEncodeSessionStaleGenerationChunksDropped: with the pipeline
// scheduler enabled, chunks buffered before a generation bump are dropped
// by reap instead of handed to the caller.
func TestEncodeSessionStaleGenerationChunksDropped(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30, BackendOptions: &NvidiaEncoderOptions{EnablePipelineScheduler: true}}
	s := newTestEncodeSession(cfg, &failingEncoderDriver{}, Nvidia)
	s.genGate = true
	defer s.Close()

	submitSyntheticFrames(t, s, 2)
	if _, err := s.Flush(); err == nil {
		t.Fatal("expected the second frame's forced failure to surface")
	}

	s.generation.Add(1)
	if _, ok, _ := s.TryReap(); ok {
		t.Fatal("pre-switch chunk should have been dropped as stale")
	}
}

func TestEncodeSessionRequestSessionSwitchUnsupportedSurfacesUnsupportedConfig(t *testing.T) {
	cfg := EncoderConfig{Codec: H264, FPS: 30}
	driver := &fakeEncoderDriver{}
	s := newTestEncodeSession(cfg, driver, Nvidia)
	defer s.Close()

	dims := Dimensions{Width: 64, Height: 64}
	if err := s.Submit(EncodeFrame{Dims: dims, Buffer: Argb8888(make([]byte, dims.Width*dims.Height*4))}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	err := s.RequestSessionSwitch(SessionSwitchRequest{Mode: SwitchImmediate})
	if err == nil {
		t.Fatal("expected UnsupportedConfig from a driver that doesn't implement switching")
	}
	cErr, ok := err.(*Error)
	if !ok || cErr.Kind != ErrKindUnsupportedConfig {
		t.Fatalf("got %v, want UnsupportedConfig", err)
	}
}
