package codec

import "encoding/binary"

// PackAnnexB prefixes every NAL in the access unit with a 4-byte Annex-B
// start code (0x00000001). Stateless and deterministic.
func PackAnnexB(au AccessUnit) []byte {
	var out []byte
	for _, nal := range au.Nals {
		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	return out
}

// UnpackAnnexB is the inverse of PackAnnexB: it re-splits Annex-B bytes
// produced for a single access unit back into a NAL list.
func UnpackAnnexB(data []byte) [][]byte {
	_, nalBegins := findStartCodes(data)
	if len(nalBegins) == 0 {
		return nil
	}
	starts, _ := findStartCodes(data)
	var out [][]byte
	for k := 0; k < len(nalBegins); k++ {
		end := len(data)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		out = append(out, append([]byte(nil), data[nalBegins[k]:end]...))
	}
	return out
}

// PackLengthPrefixed produces AVCC/HVCC-style bytes: a 4-byte big-endian
// length followed by the NAL payload, repeated for every NAL in the access
// unit.
func PackLengthPrefixed(au AccessUnit) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, nal := range au.Nals {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal)))
		out = append(out, lenBuf[:]...)
		out = append(out, nal...)
	}
	return out
}

// UnpackLengthPrefixed is the inverse of PackLengthPrefixed.
func UnpackLengthPrefixed(op string, data []byte) ([][]byte, error) {
	var out [][]byte
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
		out = append(out, append([]byte(nil), data[i:i+int(n)]...))
		i += int(n)
	}
	if i != len(data) {
		return nil, invalidBitstream(op, "trailing bytes after last sample")
	}
	return out, nil
}

// packSample packs an access unit per the given layout, for backends that
// need one canonical sample format.
func packSample(au AccessUnit, layout SampleLayout) []byte {
	switch layout {
	case LayoutAvcc, LayoutHvcc:
		return PackLengthPrefixed(au)
	default:
		return PackAnnexB(au)
	}
}
