package codec

// ColorRequest selects the post-decode color conversion a transform should
// apply.
type ColorRequest int

const (
	KeepNative ColorRequest = iota
	ToRGB24
)

// ResizeRequest is an optional target size carried with a transform. No
// transform in this package scales a frame: a non-nil ResizeRequest only
// keeps a KeepNative frame off the adapter's pass-through fast path, and
// output frames keep their input dimensions.
type ResizeRequest struct {
	Width  int
	Height int
}

// TransformInput is the unit of work submitted to the transform subsystem:
// a decoded frame plus the requested color conversion/resize.
type TransformInput struct {
	Frame  DecodedFrame
	Color  ColorRequest
	Resize *ResizeRequest
}

// TransformResult is what comes out the other end: either a DecodedUnit or
// an error.
type TransformResult struct {
	Unit DecodedFrame
	Err  error
}

// transformJob is the internal unit the dispatcher's workers execute.
type transformJob struct {
	input      TransformInput
	generation uint64 // 0 means "not generation-gated"
}

func runCPUTransform(in TransformInput) TransformResult {
	if in.Frame.Kind != DecodedFrameNV12 {
		// Nothing to convert; pass through unchanged. The adapter never
		// sends MetadataOnly frames here, but an already-converted frame
		// with a non-KeepNative request does arrive here.
		return TransformResult{Unit: in.Frame}
	}
	if in.Color != ToRGB24 {
		return TransformResult{Unit: in.Frame}
	}

	w, h, pitch := in.Frame.Dims.Width, in.Frame.Dims.Height, in.Frame.Pitch
	ySize := pitch * h
	if len(in.Frame.Bytes) < ySize {
		return TransformResult{Err: invalidInput("transform.cpu", "NV12 buffer shorter than Y plane")}
	}
	yPlane := in.Frame.Bytes[:ySize]
	uvPlane := in.Frame.Bytes[ySize:]

	rgb, err := NV12ToRGB24CPU(w, h, pitch, yPlane, uvPlane)
	if err != nil {
		return TransformResult{Err: err}
	}
	return TransformResult{Unit: DecodedFrame{
		Kind:        DecodedFrameRGB24,
		Dims:        in.Frame.Dims,
		Pts:         in.Frame.Pts,
		PixelFormat: PixelFormatRGB24,
		Color:       in.Frame.Color,
		Bytes:       rgb,
	}}
}
