package codec

import "time"

// gpuConverter is the capability set a GPU NV12->RGB24 kernel implements.
// Metal (darwin) and CUDA (linux/windows, via purego) provide concrete
// implementations; see nv12_metal_darwin.go and nv12_cuda.go.
type gpuConverter interface {
	// ConvertNV12ToRGB24 runs synchronously and returns the converted
	// frame, or an error/false-availability signal to fall back to CPU.
	ConvertNV12ToRGB24(width, height, pitch int, y, uv []byte) ([]byte, error)
	Close()
}

// backendTransformAdapter wraps the dispatcher and an optional GPU
// converter with a per-backend fast-path policy.
type backendTransformAdapter struct {
	dispatcher *transformDispatcher
	gpu        gpuConverter // nil if unavailable
}

func newBackendTransformAdapter(workers, outputCapacity int, gpu gpuConverter) *backendTransformAdapter {
	return &backendTransformAdapter{
		dispatcher: newTransformDispatcher(workers, outputCapacity),
		gpu:        gpu,
	}
}

// immediateResult is returned when submit can answer synchronously instead
// of handing work to the dispatcher.
type immediateResult struct {
	frame DecodedFrame
	ok    bool
}

// Submit applies the fast-path/GPU/CPU-fallback policy: pass-through for
// KeepNative and metadata-only input, synchronous GPU conversion when a
// converter is bound, CPU worker enqueue otherwise.
func (a *backendTransformAdapter) Submit(in TransformInput) (immediateResult, error) {
	if in.Frame.Kind == DecodedFrameMetadata {
		// MetadataOnly input is never enqueued; return unchanged.
		return immediateResult{frame: in.Frame, ok: true}, nil
	}

	if in.Color == KeepNative && in.Resize == nil {
		return immediateResult{frame: in.Frame, ok: true}, nil
	}

	if in.Frame.Kind == DecodedFrameNV12 && in.Color == ToRGB24 && a.gpu != nil {
		w, h, pitch := in.Frame.Dims.Width, in.Frame.Dims.Height, in.Frame.Pitch
		ySize := pitch * h
		if len(in.Frame.Bytes) >= ySize {
			rgb, err := a.gpu.ConvertNV12ToRGB24(w, h, pitch, in.Frame.Bytes[:ySize], in.Frame.Bytes[ySize:])
			if err == nil {
				return immediateResult{frame: DecodedFrame{
					Kind:        DecodedFrameRGB24,
					Dims:        in.Frame.Dims,
					Pts:         in.Frame.Pts,
					PixelFormat: PixelFormatRGB24,
					Color:       in.Frame.Color,
					Bytes:       rgb,
				}, ok: true}, nil
			}
			// GPU failure: fall through to the CPU worker path below.
		}
	}

	if err := a.dispatcher.Submit(transformJob{input: in}); err != nil {
		return immediateResult{}, err
	}
	return immediateResult{ok: false}, nil
}

// RecvTimeout polls the dispatcher's output queue: None on timeout/empty,
// Some(Err) on worker error, Some(Ok) otherwise.
func (a *backendTransformAdapter) RecvTimeout(timeout time.Duration) (TransformResult, bool) {
	res, err := a.dispatcher.RecvTimeout(timeout)
	if err != nil {
		return TransformResult{}, false
	}
	return res, true
}

func (a *backendTransformAdapter) Close() {
	a.dispatcher.Close()
	if a.gpu != nil {
		a.gpu.Close()
	}
}
