package codec

import "encoding/binary"

// BitstreamInput is the sum type accepted by DecodeSession.Submit. Exactly
// one of the constructors below should be used to build one.
type BitstreamInput struct {
	kind bitstreamInputKind

	// AnnexBChunk
	annexB []byte

	// AccessUnitRawNal
	rawNals [][]byte

	// LengthPrefixedSample
	lengthPrefixed []byte

	codec Codec
	pts   *Timestamp90k
}

type bitstreamInputKind int

const (
	bitstreamAnnexBChunk bitstreamInputKind = iota
	bitstreamAccessUnitRawNal
	bitstreamLengthPrefixedSample
)

// AnnexBChunk wraps an arbitrary byte slice that may span multiple NAL
// units, or none. The assembler buffers partial NAL units across calls. pts
// is optional; pass nil to let the core assign a monotonic timestamp.
func AnnexBChunk(codec Codec, data []byte, pts *Timestamp90k) BitstreamInput {
	return BitstreamInput{kind: bitstreamAnnexBChunk, annexB: data, codec: codec, pts: pts}
}

// AccessUnitRawNal wraps a list of NAL payloads (no start codes) belonging
// to one access unit. The core prepends start codes and routes through the
// Annex-B path.
func AccessUnitRawNal(codec Codec, nals [][]byte, pts *Timestamp90k) BitstreamInput {
	return BitstreamInput{kind: bitstreamAccessUnitRawNal, rawNals: nals, codec: codec, pts: pts}
}

// LengthPrefixedSample wraps AVCC/HVCC-style bytes: a 4-byte big-endian
// length followed by the NAL payload, repeated. The core validates strictly
// and converts to Annex-B.
func LengthPrefixedSample(codec Codec, data []byte, pts *Timestamp90k) BitstreamInput {
	return BitstreamInput{kind: bitstreamLengthPrefixedSample, lengthPrefixed: data, codec: codec, pts: pts}
}

// normalizeToAnnexB converts any BitstreamInput variant into Annex-B bytes
// ready for the assembler.
func (in BitstreamInput) normalizeToAnnexB(op string) ([]byte, error) {
	switch in.kind {
	case bitstreamAnnexBChunk:
		return in.annexB, nil
	case bitstreamAccessUnitRawNal:
		var out []byte
		for _, nal := range in.rawNals {
			out = append(out, startCode4...)
			out = append(out, nal...)
		}
		return out, nil
	case bitstreamLengthPrefixedSample:
		return lengthPrefixedToAnnexB(op, in.lengthPrefixed)
	default:
		return nil, invalidInput(op, "unrecognized bitstream input variant")
	}
}

var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// lengthPrefixedToAnnexB converts a 4-byte-length-prefixed NAL stream
// (AVCC/HVCC sample framing) into Annex-B, rejecting zero or truncated
// lengths and trailing bytes.
func lengthPrefixedToAnnexB(op string, data []byte) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(data) {
		if len(data)-i < 4 {
			return nil, invalidBitstream(op, "truncated length field")
		}
		n := binary.BigEndian.Uint32(data[i : i+4])
		i += 4
		if n == 0 {
			return nil, invalidBitstream(op, "zero-length NAL")
		}
		if uint64(i)+uint64(n) > uint64(len(data)) {
			return nil, invalidBitstream(op, "truncated NAL payload")
		}
		out = append(out, startCode4...)
		out = append(out, data[i:i+int(n)]...)
		i += int(n)
	}
	if i != len(data) {
		return nil, invalidBitstream(op, "trailing bytes after last sample")
	}
	return out, nil
}

// RawFrameBuffer is the sum type accepted by EncodeSession.Submit.
type RawFrameBuffer struct {
	kind rawFrameKind

	argb       []byte // Argb8888 (owned) or Argb8888Shared (read-only, not copied)
	argbShared bool

	nv12      []byte
	nv12Pitch int

	rgb24 []byte
}

type rawFrameKind int

const (
	rawFrameArgb8888 rawFrameKind = iota
	rawFrameArgb8888Shared
	rawFrameNv12
	rawFrameRgb24
)

// Argb8888 wraps an owned ARGB buffer the encoder may retain or copy.
func Argb8888(data []byte) RawFrameBuffer {
	return RawFrameBuffer{kind: rawFrameArgb8888, argb: data}
}

// Argb8888Shared wraps a caller-owned, read-only ARGB buffer. The encoder
// never writes to it and does not copy it: Submit keeps a reference to the
// buffer until the next Flush consumes it.
func Argb8888Shared(data []byte) RawFrameBuffer {
	return RawFrameBuffer{kind: rawFrameArgb8888Shared, argb: data, argbShared: true}
}

// Nv12Frame wraps an NV12 plane pair: Y plane (pitch*height) followed by an
// interleaved UV plane (pitch*height/2).
func Nv12Frame(data []byte, pitch int) RawFrameBuffer {
	return RawFrameBuffer{kind: rawFrameNv12, nv12: data, nv12Pitch: pitch}
}

// Rgb24Frame wraps packed RGB24 bytes.
func Rgb24Frame(data []byte) RawFrameBuffer {
	return RawFrameBuffer{kind: rawFrameRgb24, rgb24: data}
}

// argbBytes returns the frame's bytes if it is an ARGB variant (current
// hardware encoders only accept ARGB input), else ok=false.
func (f RawFrameBuffer) argbBytes() (data []byte, ok bool) {
	switch f.kind {
	case rawFrameArgb8888, rawFrameArgb8888Shared:
		return f.argb, true
	default:
		return nil, false
	}
}
