package codec

// AccessUnit is the ordered list of raw NAL payloads (no start codes)
// belonging to one picture.
type AccessUnit struct {
	Codec      Codec
	Nals       [][]byte
	Pts        *Timestamp90k
	IsKeyframe bool
}

// nalUnitType returns the NAL header's unit-type field per codec:
//   - H.264: low 5 bits of the first byte.
//   - HEVC: bits [9:14] of the two-byte header, i.e. (byte0 >> 1) & 0x3f.
func nalUnitType(codec Codec, nal []byte) (int, bool) {
	if len(nal) == 0 {
		return 0, false
	}
	switch codec {
	case H264:
		return int(nal[0] & 0x1f), true
	case HEVC:
		return int((nal[0] >> 1) & 0x3f), true
	default:
		return 0, false
	}
}

func isVCL(codec Codec, nalType int) bool {
	switch codec {
	case H264:
		return (nalType >= 1 && nalType <= 5) || nalType == 19
	case HEVC:
		return nalType >= 0 && nalType <= 31
	default:
		return false
	}
}

func isKeyframeVCL(codec Codec, nalType int) bool {
	switch codec {
	case H264:
		return nalType == 5
	case HEVC:
		return nalType >= 16 && nalType <= 21
	default:
		return false
	}
}

func isAUD(codec Codec, nalType int) bool {
	switch codec {
	case H264:
		return nalType == 9
	case HEVC:
		return nalType == 35
	default:
		return false
	}
}

// parameter-set NAL types, per codec.
const (
	h264SPS = 7
	h264PPS = 8

	hevcVPS = 32
	hevcSPS = 33
	hevcPPS = 34
)

// ParameterSetCache holds the latest-observed parameter sets per codec.
// Newer payloads silently replace older ones for the same slot
// (write-through).
type ParameterSetCache struct {
	codec Codec

	// H.264
	sps []byte
	pps []byte

	// HEVC
	vps  []byte
	hSps []byte
	hPps []byte
}

func newParameterSetCache(codec Codec) *ParameterSetCache {
	return &ParameterSetCache{codec: codec}
}

// observe classifies nal by nal_unit_type and stores it into the
// appropriate slot if it is a parameter set for the bound codec.
func (c *ParameterSetCache) observe(nalType int, nal []byte) {
	switch c.codec {
	case H264:
		switch nalType {
		case h264SPS:
			c.sps = append([]byte(nil), nal...)
		case h264PPS:
			c.pps = append([]byte(nil), nal...)
		}
	case HEVC:
		switch nalType {
		case hevcVPS:
			c.vps = append([]byte(nil), nal...)
		case hevcSPS:
			c.hSps = append([]byte(nil), nal...)
		case hevcPPS:
			c.hPps = append([]byte(nil), nal...)
		}
	}
}

// complete reports whether enough parameter sets have been observed to
// create a decoder: SPS+PPS for H.264, VPS+SPS+PPS for HEVC.
func (c *ParameterSetCache) complete() bool {
	switch c.codec {
	case H264:
		return c.sps != nil && c.pps != nil
	case HEVC:
		return c.vps != nil && c.hSps != nil && c.hPps != nil
	default:
		return false
	}
}

// snapshot returns the cache's parameter sets in deterministic order: for
// H.264 [SPS, PPS]; for HEVC [VPS, SPS, PPS]. Missing slots are omitted.
func (c *ParameterSetCache) snapshot() [][]byte {
	var out [][]byte
	switch c.codec {
	case H264:
		if c.sps != nil {
			out = append(out, c.sps)
		}
		if c.pps != nil {
			out = append(out, c.pps)
		}
	case HEVC:
		if c.vps != nil {
			out = append(out, c.vps)
		}
		if c.hSps != nil {
			out = append(out, c.hSps)
		}
		if c.hPps != nil {
			out = append(out, c.hPps)
		}
	}
	return out
}

// clone returns a value-copy snapshot of the cache, handed out to the
// decoder on each submit so the assembler remains the exclusive owner of
// the live cache.
func (c *ParameterSetCache) clone() *ParameterSetCache {
	cp := *c
	return &cp
}
