package codec

import (
	"bytes"
	"testing"
)

func sampleAU() AccessUnit {
	return AccessUnit{
		Codec: H264,
		Nals: [][]byte{
			{0x67, 0x42, 0x00, 0x1e},
			{0x68, 0xce, 0x06, 0xe2},
			{0x65, 0x88, 0x84, 0x21},
		},
		IsKeyframe: true,
	}
}

func TestAnnexBRoundTrip(t *testing.T) {
	au := sampleAU()
	packed := PackAnnexB(au)
	unpacked := UnpackAnnexB(packed)
	if !equalNals(unpacked, au.Nals) {
		t.Fatalf("round trip mismatch: got %v, want %v", unpacked, au.Nals)
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	au := sampleAU()
	packed := PackLengthPrefixed(au)
	unpacked, err := UnpackLengthPrefixed("test", packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !equalNals(unpacked, au.Nals) {
		t.Fatalf("round trip mismatch: got %v, want %v", unpacked, au.Nals)
	}
}

// TestLengthPrefixedToAnnexBFixedPoint checks that length-prefixed pack ->
// normalization -> Annex-B pack is a fixed point on the NAL sequence,
// via BitstreamInput's normalizeToAnnexB path.
func TestLengthPrefixedToAnnexBFixedPoint(t *testing.T) {
	au := sampleAU()
	lengthPrefixed := PackLengthPrefixed(au)

	in := LengthPrefixedSample(H264, lengthPrefixed, nil)
	annexB, err := in.normalizeToAnnexB("test")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := PackAnnexB(au)
	if !bytes.Equal(annexB, want) {
		t.Fatalf("normalized bytes = %x, want %x", annexB, want)
	}
}

// TestScenario2LengthPrefixedConversion converts a two-sample
// length-prefixed buffer to Annex-B.
func TestScenario2LengthPrefixedConversion(t *testing.T) {
	in := []byte{0x00, 0x00, 0x00, 0x02, 0x67, 0x64, 0x00, 0x00, 0x00, 0x03, 0x68, 0xee, 0x3c}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x64, 0x00, 0x00, 0x00, 0x01, 0x68, 0xee, 0x3c}

	input := LengthPrefixedSample(H264, in, nil)
	got, err := input.normalizeToAnnexB("test")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestScenario2TrailingBytesRejected(t *testing.T) {
	in := []byte{0x00, 0x00, 0x00, 0x02, 0x67, 0x64, 0xff}
	input := LengthPrefixedSample(H264, in, nil)
	_, err := input.normalizeToAnnexB("test")
	assertInvalidBitstream(t, err)
}

func TestScenario2ZeroLengthRejected(t *testing.T) {
	in := []byte{0x00, 0x00, 0x00, 0x00, 0x67, 0x64}
	input := LengthPrefixedSample(H264, in, nil)
	_, err := input.normalizeToAnnexB("test")
	assertInvalidBitstream(t, err)
}

func TestScenario2TruncatedLengthRejected(t *testing.T) {
	in := []byte{0x00, 0x00, 0x00, 0x10, 0x67, 0x64}
	input := LengthPrefixedSample(H264, in, nil)
	_, err := input.normalizeToAnnexB("test")
	assertInvalidBitstream(t, err)
}

func assertInvalidBitstream(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	cErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error is not *codec.Error: %v", err)
	}
	if cErr.Kind != ErrKindInvalidBitstream {
		t.Errorf("kind = %v, want InvalidBitstream", cErr.Kind)
	}
}

func TestAccessUnitRawNalPrependsStartCodes(t *testing.T) {
	nals := [][]byte{{0x67, 0x01}, {0x68, 0x02}}
	in := AccessUnitRawNal(H264, nals, nil)
	got, err := in.normalizeToAnnexB("test")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := []byte{0, 0, 0, 1, 0x67, 0x01, 0, 0, 0, 1, 0x68, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}
