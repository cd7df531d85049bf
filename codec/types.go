// Package codec is a backend-agnostic, hardware-accelerated H.264/HEVC
// streaming codec façade. It dispatches to Apple VideoToolbox (macOS) or
// NVIDIA NVDEC/NVENC (Linux/Windows) behind two session types, DecodeSession
// and EncodeSession, hiding bitstream layout, asynchronous completion, and
// parameter-set handling differences between the two.
package codec

import "fmt"

// Codec identifies the bitstream syntax a session is bound to. It is fixed
// once a session is configured.
type Codec int

const (
	H264 Codec = iota
	HEVC
)

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case HEVC:
		return "hevc"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

func (c Codec) valid() bool {
	return c == H264 || c == HEVC
}

// Dimensions is a positive width x height pair. Sessions reject
// zero-dimensioned frames.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Timestamp90k is a signed count in a 90 kHz clock, the conventional media
// presentation-time unit.
type Timestamp90k int64

// PixelFormat names the layout of a decoded or raw frame buffer.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatNV12
	PixelFormatRGB24
	PixelFormatARGB8888
)

// ColorMetadata carries optional color-description side information a
// backend may report alongside decoded frames (primaries/transfer/matrix,
// HDR static metadata). The core does not interpret these values; they are
// passed through for higher-level consumers.
type ColorMetadata struct {
	Primaries        int
	TransferFunction int
	MatrixCoeffs     int
	FullRange        bool
}

// BackendKind selects which hardware backend a session binds to.
type BackendKind int

const (
	// Auto resolves to the first backend that reports support for the
	// requested codec (and, if RequireHardware is set, hardware
	// acceleration) on this platform.
	Auto BackendKind = iota
	VideoToolbox
	Nvidia
)

func (b BackendKind) String() string {
	switch b {
	case Auto:
		return "auto"
	case VideoToolbox:
		return "videotoolbox"
	case Nvidia:
		return "nvidia"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// osDefault is the platform's preferred non-Auto backend, used to order the
// Auto resolution probe list. Implemented per-build-target in
// backend_darwin.go / backend_other.go.
func osDefault() BackendKind {
	return osDefaultBackend()
}

// CapabilityReport answers QueryCapability for a given codec on a bound
// or probed backend.
type CapabilityReport struct {
	DecodeSupported      bool
	EncodeSupported      bool
	HardwareAcceleration bool
}

// SampleLayout is the wire shape of an EncodedChunk's bytes.
type SampleLayout int

const (
	LayoutAnnexB SampleLayout = iota
	LayoutAvcc
	LayoutHvcc
	LayoutOpaque
)

func (l SampleLayout) String() string {
	switch l {
	case LayoutAnnexB:
		return "annexb"
	case LayoutAvcc:
		return "avcc"
	case LayoutHvcc:
		return "hvcc"
	default:
		return "opaque"
	}
}

// layoutFor derives the EncodedChunk layout from (backend, codec):
// VT+H264->Avcc, VT+HEVC->Hvcc, NV+any->AnnexB.
func layoutFor(backend BackendKind, c Codec) SampleLayout {
	switch backend {
	case VideoToolbox:
		if c == HEVC {
			return LayoutHvcc
		}
		return LayoutAvcc
	default:
		return LayoutAnnexB
	}
}
