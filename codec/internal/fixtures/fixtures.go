// Package fixtures generates deterministic, syntactically valid Annex-B
// H.264 streams for the decode-session tests: a stream decoded in
// different chunk sizes must yield the same frame count either way.
//
// The NAL header bytes carry real nal_unit_type values (SPS=7, PPS=8,
// IDR slice=5, non-IDR slice=1, AUD=9), so the fixtures exercise the
// actual assembler and decoder parsing rules, not a simplified stand-in
// format. Slice payloads are synthetic; the fake drivers the tests bind
// never interpret slice contents.
package fixtures

import "encoding/binary"

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// sps/pps are fixed, syntactically-plausible parameter-set payloads (the
// decode-session mock driver doesn't interpret their contents, only their
// nal_unit_type and presence).
var (
	sampleSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0x96, 0x54, 0x05, 0x01, 0xef, 0xf3, 0x50}
	samplePPS = []byte{0x68, 0xce, 0x06, 0xe2}
)

func appendNAL(buf []byte, nal []byte) []byte {
	buf = append(buf, startCode...)
	return append(buf, nal...)
}

// idrSlice builds a keyframe (IDR, nal_unit_type 5) slice NAL whose payload
// encodes the frame index, so fixtures with distinct indices never collide
// byte-for-byte (useful for assertions on access-unit ordering).
func idrSlice(index uint32) []byte {
	nal := make([]byte, 6)
	nal[0] = 0x65
	binary.BigEndian.PutUint32(nal[1:5], index)
	nal[5] = 0x80
	return nal
}

// pSlice builds a non-IDR (nal_unit_type 1) slice NAL for index.
func pSlice(index uint32) []byte {
	nal := make([]byte, 6)
	nal[0] = 0x41
	binary.BigEndian.PutUint32(nal[1:5], index)
	nal[5] = 0x9a
	return nal
}

// aud is the access-unit delimiter NAL (nal_unit_type 9) the assembler
// uses to finalize access units without waiting for the next VCL NAL.
var aud = []byte{0x09, 0xf0}

// H264Stream builds a complete Annex-B byte stream with frameCount access
// units at the given gopSize (every gopSize'th frame, starting at 0, is an
// IDR access unit carrying a fresh SPS/PPS; the rest are single-NAL P
// access units). Each access unit is preceded by an AUD.
func H264Stream(frameCount int, gopSize int) []byte {
	if gopSize < 1 {
		gopSize = 1
	}
	var out []byte
	for i := 0; i < frameCount; i++ {
		out = appendNAL(out, aud)
		if i%gopSize == 0 {
			out = appendNAL(out, sampleSPS)
			out = appendNAL(out, samplePPS)
			out = appendNAL(out, idrSlice(uint32(i)))
		} else {
			out = appendNAL(out, pSlice(uint32(i)))
		}
	}
	return out
}

// FrameCountFor90KHzStream returns the access-unit count for a stream of
// durationSeconds at fps, truncating the product the way a sample loader
// slicing a real file would (10s at ~30.3fps gives 303 frames).
func FrameCountFor90KHzStream(durationSeconds float64, fps float64) int {
	n := int(durationSeconds * fps)
	if n < 1 {
		n = 1
	}
	return n
}
