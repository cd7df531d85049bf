package codec

import "testing"

// scenario1Bytes is an AUD-delimited H.264 stream: an SPS/PPS/IDR access
// unit followed by a single non-IDR slice access unit.
func scenario1Bytes() []byte {
	var b []byte
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x09, 0xf0)
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e)
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x06, 0xe2)
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21)
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x09, 0xf0)
	b = append(b, 0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x22, 0x11)
	return b
}

func TestAssemblerScenario1_OneShot(t *testing.T) {
	a := NewStatefulBitstreamAssembler(H264)
	aus := a.PushChunk(scenario1Bytes())
	flushed, err := a.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	aus = append(aus, flushed...)
	assertScenario1(t, aus, a)
}

func TestAssemblerScenario1_ChunkedByThreeBytes(t *testing.T) {
	a := NewStatefulBitstreamAssembler(H264)
	data := scenario1Bytes()
	var aus []AccessUnit
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}
		aus = append(aus, a.PushChunk(data[i:end])...)
	}
	flushed, err := a.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	aus = append(aus, flushed...)
	assertScenario1(t, aus, a)
}

func assertScenario1(t *testing.T, aus []AccessUnit, a *StatefulBitstreamAssembler) {
	t.Helper()
	if len(aus) != 2 {
		t.Fatalf("got %d access units, want 2", len(aus))
	}
	if !aus[0].IsKeyframe {
		t.Error("AU#0 should be a keyframe")
	}
	if len(aus[0].Nals) != 3 {
		t.Errorf("AU#0 has %d NALs, want 3 (SPS, PPS, slice5)", len(aus[0].Nals))
	}
	if aus[1].IsKeyframe {
		t.Error("AU#1 should not be a keyframe")
	}
	if len(aus[1].Nals) != 1 {
		t.Errorf("AU#1 has %d NALs, want 1", len(aus[1].Nals))
	}
	if len(aus[1].Nals) == 1 && aus[1].Nals[0][0] != 0x41 {
		t.Errorf("AU#1's NAL header = %#x, want 0x41", aus[1].Nals[0][0])
	}

	snapshot := a.ParameterSets()
	if len(snapshot) != 2 {
		t.Fatalf("cache snapshot has %d entries, want 2 ([SPS, PPS])", len(snapshot))
	}
	if snapshot[0][0] != 0x67 {
		t.Errorf("snapshot[0] header = %#x, want SPS (0x67)", snapshot[0][0])
	}
	if snapshot[1][0] != 0x68 {
		t.Errorf("snapshot[1] header = %#x, want PPS (0x68)", snapshot[1][0])
	}
}

// TestAssemblerChunkedPartitionInvariant checks that any partition of the
// same byte sequence produces the same AU list.
func TestAssemblerChunkedPartitionInvariant(t *testing.T) {
	data := scenario1Bytes()
	partitions := [][]int{
		{len(data)},
		{1, 1, 1, 1},
		{5, 7, 11, 100},
		{2},
	}

	var reference []AccessUnit
	for pi, sizes := range partitions {
		a := NewStatefulBitstreamAssembler(H264)
		var aus []AccessUnit
		pos, si := 0, 0
		for pos < len(data) {
			n := sizes[si%len(sizes)]
			si++
			if pos+n > len(data) {
				n = len(data) - pos
			}
			aus = append(aus, a.PushChunk(data[pos:pos+n])...)
			pos += n
		}
		flushed, err := a.Flush()
		if err != nil {
			t.Fatalf("partition %d: flush: %v", pi, err)
		}
		aus = append(aus, flushed...)

		if pi == 0 {
			reference = aus
			continue
		}
		if len(aus) != len(reference) {
			t.Fatalf("partition %d: got %d AUs, want %d", pi, len(aus), len(reference))
		}
		for i := range aus {
			if aus[i].IsKeyframe != reference[i].IsKeyframe {
				t.Errorf("partition %d AU#%d: IsKeyframe=%v, want %v", pi, i, aus[i].IsKeyframe, reference[i].IsKeyframe)
			}
			if !equalNals(aus[i].Nals, reference[i].Nals) {
				t.Errorf("partition %d AU#%d: NAL mismatch", pi, i)
			}
		}
	}
}

func TestAssemblerFlushWithoutCodecRejected(t *testing.T) {
	a := &StatefulBitstreamAssembler{}
	_, err := a.Flush()
	if err == nil {
		t.Fatal("expected InvalidInput flushing an unbound assembler")
	}
	cErr, isCodecErr := err.(*Error)
	if !isCodecErr {
		t.Fatalf("error is not *codec.Error: %v", err)
	}
	if cErr.Kind != ErrKindInvalidInput {
		t.Errorf("kind = %v, want InvalidInput", cErr.Kind)
	}
}

func TestAssemblerEmptyChunkIsNoop(t *testing.T) {
	a := NewStatefulBitstreamAssembler(H264)
	aus := a.PushChunk(nil)
	if len(aus) != 0 {
		t.Fatalf("empty chunk produced %d AUs, want 0", len(aus))
	}
}
