package codec

import (
	"testing"

	"github.com/driftcam/hwcodec/codec/internal/fixtures"
)

// fakeDecoderDriver is a synchronous stand-in for hardwareDecoderDriver
// that records calls without touching the shared decoderOutputState. It
// lets the decode-session tests exercise the full assembler -> engine ->
// ready-queue path without real hardware.
type fakeDecoderDriver struct {
	dims      Dimensions
	created   bool
	submitted int
	closed    bool
}

func (f *fakeDecoderDriver) QueryCapability(Codec) CapabilityReport {
	return CapabilityReport{DecodeSupported: true, HardwareAcceleration: true}
}

func (f *fakeDecoderDriver) CreateSession(codec Codec, paramSets [][]byte, requireHardware bool, state *decoderOutputState) error {
	f.created = true
	f.dims = Dimensions{Width: 640, Height: 360}
	return nil
}

func (f *fakeDecoderDriver) SampleLayout() SampleLayout { return LayoutAnnexB }

func (f *fakeDecoderDriver) SubmitSample(sample []byte, pts Timestamp90k) error {
	f.submitted++
	return nil
}

func (f *fakeDecoderDriver) Flush() error { return nil }

func (f *fakeDecoderDriver) Close() error { f.closed = true; return nil }

// callbackDecoderDriver additionally drives decoderOutputState, as if the
// hardware callback fired inline on every submit, so Summary()/delta()
// accounting can be asserted against a known frame count.
type callbackDecoderDriver struct {
	state *decoderOutputState
}

func (f *callbackDecoderDriver) QueryCapability(Codec) CapabilityReport {
	return CapabilityReport{DecodeSupported: true, HardwareAcceleration: true}
}

func (f *callbackDecoderDriver) CreateSession(codec Codec, paramSets [][]byte, requireHardware bool, state *decoderOutputState) error {
	f.state = state
	return nil
}

func (f *callbackDecoderDriver) SampleLayout() SampleLayout { return LayoutAnnexB }

func (f *callbackDecoderDriver) SubmitSample(sample []byte, pts Timestamp90k) error {
	f.state.onFrame(Dimensions{Width: 640, Height: 360}, PixelFormatNV12, ColorMetadata{})
	return nil
}

func (f *callbackDecoderDriver) Flush() error { return nil }

func (f *callbackDecoderDriver) Close() error { return nil }

func newTestDecodeSession(cfg DecoderConfig, driver hardwareDecoderDriver) *DecodeSession {
	return &DecodeSession{
		cfg:     cfg,
		backend: Auto,
		engine:  newDecoderEngine(cfg, driver),
		ready:   newBoundedQueue[DecodedFrame](256),
	}
}

func decodeWholeStream(t *testing.T, stream []byte, chunkSize int) (frameCount int, summaryFrames int64) {
	t.Helper()
	cfg := DecoderConfig{Codec: H264, FPS: 30}
	driver := &callbackDecoderDriver{}
	s := newTestDecodeSession(cfg, driver)
	defer s.Close()

	pos := 0
	for pos < len(stream) {
		end := pos + chunkSize
		if end > len(stream) {
			end = len(stream)
		}
		if err := s.Submit(AnnexBChunk(H264, stream[pos:end], nil)); err != nil {
			t.Fatalf("submit: %v", err)
		}
		pos = end
	}

	var reaped []DecodedFrame
	for {
		f, ok, err := s.TryReap()
		if err != nil {
			t.Fatalf("reap: %v", err)
		}
		if !ok {
			break
		}
		reaped = append(reaped, f)
	}

	flushed, err := s.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	return len(reaped) + len(flushed), s.Summary().DecodedFrames
}

// TestDecodeSessionScenario3And4 decodes a 303-frame stream in small
// chunks and again in one giant chunk; both runs must yield the same
// frame count and summary.
func TestDecodeSessionScenario3And4(t *testing.T) {
	frameCount := fixtures.FrameCountFor90KHzStream(10, 30.3)
	if frameCount != 303 {
		t.Fatalf("fixture frame count = %d, want 303", frameCount)
	}
	stream := fixtures.H264Stream(frameCount, 30)

	chunked, chunkedSummary := decodeWholeStream(t, stream, 4096)
	if chunked != 303 {
		t.Fatalf("chunked decode produced %d frames, want 303", chunked)
	}
	if chunkedSummary != 303 {
		t.Fatalf("chunked summary = %d, want 303", chunkedSummary)
	}

	whole, wholeSummary := decodeWholeStream(t, stream, 1<<20)
	if whole != chunked {
		t.Fatalf("one-shot decode produced %d frames, want %d (same as chunked)", whole, chunked)
	}
	if wholeSummary != chunkedSummary {
		t.Fatalf("one-shot summary = %d, want %d", wholeSummary, chunkedSummary)
	}
}

// TestDecodeSessionSilentNoOpBeforeParameterSets: submits before the
// parameter-set cache is complete succeed and produce no frames, not an
// error.
func TestDecodeSessionSilentNoOpBeforeParameterSets(t *testing.T) {
	cfg := DecoderConfig{Codec: H264, FPS: 30}
	driver := &fakeDecoderDriver{}
	s := newTestDecodeSession(cfg, driver)
	defer s.Close()

	// A lone slice NAL with no SPS/PPS observed yet.
	if err := s.Submit(AnnexBChunk(H264, append([]byte{0, 0, 0, 1}, 0x65, 0x01, 0x02), nil)); err != nil {
		t.Fatalf("submit before parameter sets should not error: %v", err)
	}
	if driver.created {
		t.Fatal("decoder should not be created before parameter sets are complete")
	}
	if _, ok, _ := s.TryReap(); ok {
		t.Fatal("no frames should be produced before parameter sets are complete")
	}
}

func TestDecodeSessionRejectsMismatchedCodec(t *testing.T) {
	cfg := DecoderConfig{Codec: H264, FPS: 30}
	s := newTestDecodeSession(cfg, &fakeDecoderDriver{})
	defer s.Close()

	err := s.Submit(AnnexBChunk(HEVC, []byte{0, 0, 0, 1, 0x40}, nil))
	if err == nil {
		t.Fatal("expected an error for mismatched bitstream codec")
	}
}
