package codec

import (
	"testing"
	"time"
)

func nv12Frame(w, h, pitch int) DecodedFrame {
	y, uv := flatNV12(w, h, pitch)
	return DecodedFrame{
		Kind:  DecodedFrameNV12,
		Dims:  Dimensions{Width: w, Height: h},
		Pitch: pitch,
		Bytes: append(append([]byte(nil), y...), uv...),
	}
}

func TestTransformDispatcherRunsJobsAndDeliversResults(t *testing.T) {
	d := newTransformDispatcher(2, 4)
	defer d.Close()

	job := transformJob{input: TransformInput{Frame: nv12Frame(4, 2, 4), Color: ToRGB24}}
	if err := d.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := d.RecvTimeout(time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("transform error: %v", res.Err)
	}
	if res.Unit.Kind != DecodedFrameRGB24 {
		t.Fatalf("kind = %v, want RGB24", res.Unit.Kind)
	}
}

func TestTransformDispatcherCloseJoinsWorkers(t *testing.T) {
	d := newTransformDispatcher(3, 4)
	d.Close()
	if err := d.Submit(transformJob{}); err == nil {
		t.Fatal("expected submit after Close to surface Disconnected, not fail silently")
	}
}

func TestTransformDispatcherRecvTimeoutOnEmpty(t *testing.T) {
	d := newTransformDispatcher(1, 4)
	defer d.Close()
	_, err := d.RecvTimeout(10 * time.Millisecond)
	if _, isTimeout := err.(queueTimeout); !isTimeout {
		t.Fatalf("got %T, want queueTimeout", err)
	}
}
