package codec

import "bytes"

// StatefulBitstreamAssembler is a chunked Annex-B scanner that buffers
// partial NAL units across PushChunk calls, segments the stream into
// access units, and maintains a ParameterSetCache. It is the sole owner of
// its cache; callers receive snapshots, never a live reference.
type StatefulBitstreamAssembler struct {
	codec   Codec
	pending []byte

	sawAUD bool

	formingNals      [][]byte
	formingHasVCL    bool
	formingHasKeyVCL bool

	cache *ParameterSetCache
}

// NewStatefulBitstreamAssembler creates an assembler bound to codec for its
// lifetime.
func NewStatefulBitstreamAssembler(codec Codec) *StatefulBitstreamAssembler {
	return &StatefulBitstreamAssembler{
		codec: codec,
		cache: newParameterSetCache(codec),
	}
}

// startCodeLen returns the start-code length (3 or 4) at position i in buf,
// or 0 if none matches there.
func startCodeLen(buf []byte, i int) int {
	if i+4 <= len(buf) && buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 0 && buf[i+3] == 1 {
		return 4
	}
	if i+3 <= len(buf) && buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
		return 3
	}
	return 0
}

// findStartCodes scans buf for every Annex-B start code, returning the byte
// offset immediately after each start code (i.e. where the NAL payload
// begins) together with the offset where that start code itself began. The
// scan accepts either start-code length at each position and steps past a
// match so the trailing 0x000001 of a 4-byte code is not counted twice.
func findStartCodes(buf []byte) (starts []int, nalBegins []int) {
	for i := 0; i+2 < len(buf); {
		n := startCodeLen(buf, i)
		if n == 0 {
			i++
			continue
		}
		starts = append(starts, i)
		nalBegins = append(nalBegins, i+n)
		i += n
	}
	return starts, nalBegins
}

// PushChunk appends data to the pending buffer, emits every complete NAL
// payload it can find, and returns any access units that were finalized as
// a result. Bytes after the last start code are retained for the next
// call, since their tail might still be incoming.
func (a *StatefulBitstreamAssembler) PushChunk(data []byte) []AccessUnit {
	a.pending = append(a.pending, data...)

	starts, nalBegins := findStartCodes(a.pending)
	if len(starts) == 0 {
		return nil
	}

	var aus []AccessUnit
	// Every NAL runs from nalBegins[k] to starts[k+1]; the last run is
	// retained (it may still be receiving bytes).
	for k := 0; k < len(starts)-1; k++ {
		nal := a.pending[nalBegins[k]:starts[k+1]]
		if au, ok := a.observeNal(nal); ok {
			aus = append(aus, au)
		}
	}

	// Retain from the final start code onward.
	a.pending = append([]byte(nil), a.pending[starts[len(starts)-1]:]...)
	return aus
}

// Flush drains the last NAL (bytes after the final start code still
// pending) and emits the forming access unit if it has a VCL NAL.
// Returns an InvalidInput error if no codec has ever been bound — in this
// implementation the assembler is always constructed with a codec, so this
// only fires if called through a zero-value assembler.
func (a *StatefulBitstreamAssembler) Flush() ([]AccessUnit, error) {
	if a.cache == nil || !a.codec.valid() {
		return nil, invalidInput("assembler.flush", "no codec bound")
	}

	var aus []AccessUnit
	if n := startCodeLen(a.pending, 0); n != 0 && len(a.pending) > n {
		nal := a.pending[n:]
		if au, ok := a.observeNal(nal); ok {
			aus = append(aus, au)
		}
	}
	a.pending = nil

	if final, ok := a.finalizeIfVCL(); ok {
		aus = append(aus, final)
	}
	return aus, nil
}

// ParameterSets returns a value-copy snapshot of the current cache in
// deterministic order.
func (a *StatefulBitstreamAssembler) ParameterSets() [][]byte {
	return a.cache.snapshot()
}

// CacheSnapshot returns an independent clone of the live cache, handed to
// the decoder on each submit; the decoder never holds a live reference to
// the assembler's cache.
func (a *StatefulBitstreamAssembler) CacheSnapshot() *ParameterSetCache {
	return a.cache.clone()
}

// observeNal classifies a single NAL payload, drives access-unit
// segmentation, and returns a finalized AccessUnit if this NAL caused one.
func (a *StatefulBitstreamAssembler) observeNal(nal []byte) (AccessUnit, bool) {
	nalType, ok := nalUnitType(a.codec, nal)
	if !ok {
		return AccessUnit{}, false
	}

	a.cache.observe(nalType, nal)

	switch {
	case isAUD(a.codec, nalType):
		a.sawAUD = true
		if a.formingHasVCL {
			final, ok := a.finalizeIfVCL()
			return final, ok
		}
		// Discard accumulated non-VCL NALs that preceded this AUD without
		// ever seeing a VCL.
		a.resetForming()
		return AccessUnit{}, false

	case isVCL(a.codec, nalType):
		var finalized AccessUnit
		didFinalize := false
		if !a.sawAUD && a.formingHasVCL {
			// Implicit boundary: a VCL arrives while the current AU
			// already has one, and no AUD has appeared yet to mark it.
			finalized, didFinalize = a.finalizeIfVCL()
		}
		a.formingNals = append(a.formingNals, append([]byte(nil), nal...))
		a.formingHasVCL = true
		if isKeyframeVCL(a.codec, nalType) {
			a.formingHasKeyVCL = true
		}
		if didFinalize {
			return finalized, true
		}
		return AccessUnit{}, false

	default:
		// Non-VCL NAL before a VCL: accumulate into the forming AU.
		a.formingNals = append(a.formingNals, append([]byte(nil), nal...))
		return AccessUnit{}, false
	}
}

func (a *StatefulBitstreamAssembler) resetForming() {
	a.formingNals = nil
	a.formingHasVCL = false
	a.formingHasKeyVCL = false
}

// finalizeIfVCL closes out the forming access unit if it contains a VCL
// NAL, resetting assembler state for the next one.
func (a *StatefulBitstreamAssembler) finalizeIfVCL() (AccessUnit, bool) {
	if !a.formingHasVCL {
		a.resetForming()
		return AccessUnit{}, false
	}
	au := AccessUnit{
		Codec:      a.codec,
		Nals:       a.formingNals,
		IsKeyframe: a.formingHasKeyVCL,
	}
	a.resetForming()
	return au, true
}

// equalNals is a test helper kept here since it is small and used by
// multiple _test.go files for access-unit comparisons.
func equalNals(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
