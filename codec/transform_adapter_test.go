package codec

import (
	"testing"
	"time"
)

const timeoutForTest = time.Second

func TestBackendTransformAdapterKeepNativeFastPath(t *testing.T) {
	a := newBackendTransformAdapter(1, 4, nil)
	defer a.Close()

	frame := nv12Frame(4, 2, 4)
	imm, err := a.Submit(TransformInput{Frame: frame, Color: KeepNative})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !imm.ok {
		t.Fatal("KeepNative with no resize should return an immediate result")
	}
	if imm.frame.Kind != DecodedFrameNV12 {
		t.Fatalf("fast path should pass the frame through unchanged, got kind %v", imm.frame.Kind)
	}
}

func TestBackendTransformAdapterMetadataNeverEnqueued(t *testing.T) {
	a := newBackendTransformAdapter(1, 4, nil)
	defer a.Close()

	imm, err := a.Submit(TransformInput{Frame: DecodedFrame{Kind: DecodedFrameMetadata}, Color: ToRGB24})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !imm.ok || imm.frame.Kind != DecodedFrameMetadata {
		t.Fatalf("MetadataOnly input must return unchanged immediately, got %+v, ok=%v", imm.frame, imm.ok)
	}
}

func TestBackendTransformAdapterCPUFallbackWhenNoGPU(t *testing.T) {
	a := newBackendTransformAdapter(1, 4, nil)
	defer a.Close()

	frame := nv12Frame(4, 2, 4)
	imm, err := a.Submit(TransformInput{Frame: frame, Color: ToRGB24})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if imm.ok {
		t.Fatal("no GPU converter bound: expected accepted/pending, not an immediate result")
	}

	res, got := a.RecvTimeout(timeoutForTest)
	if !got {
		t.Fatal("expected a CPU-worker result")
	}
	if res.Err != nil {
		t.Fatalf("transform error: %v", res.Err)
	}
	if res.Unit.Kind != DecodedFrameRGB24 {
		t.Fatalf("kind = %v, want RGB24", res.Unit.Kind)
	}
}

// fakeGPUConverter lets tests exercise the GPU synchronous fast path and
// its failure fallback without a real Metal/CUDA device.
type fakeGPUConverter struct {
	fail   bool
	closed bool
}

func (f *fakeGPUConverter) ConvertNV12ToRGB24(width, height, pitch int, y, uv []byte) ([]byte, error) {
	if f.fail {
		return nil, invalidInput("fake_gpu", "forced failure")
	}
	return make([]byte, width*height*3), nil
}

func (f *fakeGPUConverter) Close() { f.closed = true }

func TestBackendTransformAdapterGPUFastPath(t *testing.T) {
	gpu := &fakeGPUConverter{}
	a := newBackendTransformAdapter(1, 4, gpu)
	defer a.Close()

	imm, err := a.Submit(TransformInput{Frame: nv12Frame(4, 2, 4), Color: ToRGB24})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !imm.ok {
		t.Fatal("GPU success should be an immediate result")
	}
	if imm.frame.Kind != DecodedFrameRGB24 {
		t.Fatalf("kind = %v, want RGB24", imm.frame.Kind)
	}
}

func TestBackendTransformAdapterGPUFailureFallsBackToCPU(t *testing.T) {
	gpu := &fakeGPUConverter{fail: true}
	a := newBackendTransformAdapter(1, 4, gpu)
	defer a.Close()

	imm, err := a.Submit(TransformInput{Frame: nv12Frame(4, 2, 4), Color: ToRGB24})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if imm.ok {
		t.Fatal("GPU failure should fall through to the CPU worker path (pending), not an immediate result")
	}
	res, got := a.RecvTimeout(timeoutForTest)
	if !got {
		t.Fatal("expected a CPU fallback result")
	}
	if res.Unit.Kind != DecodedFrameRGB24 {
		t.Fatalf("kind = %v, want RGB24", res.Unit.Kind)
	}
}
