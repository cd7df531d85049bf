package codec

// DecodedFrameKind discriminates the DecodedFrame sum type.
type DecodedFrameKind int

const (
	DecodedFrameMetadata DecodedFrameKind = iota
	DecodedFrameNV12
	DecodedFrameRGB24
)

// DecodedFrame is either a Metadata-only frame (current hardware backends
// emit these, with a synthetic pts sequence) or an upgraded Nv12/Rgb24
// frame produced by the post-decode transform subsystem.
type DecodedFrame struct {
	Kind DecodedFrameKind

	Dims        Dimensions
	Pts         Timestamp90k
	PixelFormat PixelFormat
	Color       ColorMetadata

	Pitch int    // valid for NV12
	Bytes []byte // valid for NV12/RGB24
}

// EncodedChunk is one encoder output unit.
type EncodedChunk struct {
	Codec      Codec
	Layout     SampleLayout
	Bytes      []byte
	Pts        *Timestamp90k
	IsKeyframe bool
}

// DecodeSummary is the cumulative, monotone decode accounting exposed by
// DecodeSession.Summary().
type DecodeSummary struct {
	DecodedFrames int64

	HasDims     bool
	Width       int
	Height      int
	HasFormat   bool
	PixelFormat PixelFormat
}
