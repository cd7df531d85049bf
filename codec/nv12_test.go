package codec

import "testing"

func flatNV12(width, height, pitch int) (y, uv []byte) {
	y = make([]byte, pitch*height)
	uv = make([]byte, pitch*height/2)
	for i := range y {
		y[i] = 128
	}
	for i := range uv {
		uv[i] = 128
	}
	return y, uv
}

func TestNV12ToRGB24CPU_SizeAndMidGray(t *testing.T) {
	const w, h, pitch = 4, 2, 4
	y, uv := flatNV12(w, h, pitch)
	rgb, err := NV12ToRGB24CPU(w, h, pitch, y, uv)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got, want := len(rgb), w*h*3; got != want {
		t.Fatalf("len(rgb) = %d, want %d", got, want)
	}
	// Y=128, U=V=128 (neutral chroma) should land close to mid-gray on
	// every channel under BT.601 limited range.
	for i := 0; i < len(rgb); i++ {
		if rgb[i] < 110 || rgb[i] > 145 {
			t.Fatalf("byte %d = %d, expected a mid-gray value", i, rgb[i])
		}
	}
}

func TestNV12ToRGB24CPU_ZeroDimensionsRejected(t *testing.T) {
	y, uv := flatNV12(4, 2, 4)
	if _, err := NV12ToRGB24CPU(0, 2, 4, y, uv); err == nil {
		t.Fatal("expected InvalidInput for zero width")
	}
	if _, err := NV12ToRGB24CPU(4, 0, 4, y, uv); err == nil {
		t.Fatal("expected InvalidInput for zero height")
	}
}

func TestNV12ToRGB24CPU_WidthExceedsPitchRejected(t *testing.T) {
	y, uv := flatNV12(4, 2, 4)
	if _, err := NV12ToRGB24CPU(8, 2, 4, y, uv); err == nil {
		t.Fatal("expected InvalidInput when width > pitch")
	}
}

func TestNV12ToRGB24CPU_InsufficientDataRejected(t *testing.T) {
	y, uv := flatNV12(4, 2, 4)
	if _, err := NV12ToRGB24CPU(4, 2, 4, y[:len(y)-1], uv); err == nil {
		t.Fatal("expected InvalidInput for short Y plane")
	}
	if _, err := NV12ToRGB24CPU(4, 2, 4, y, uv[:len(uv)-1]); err == nil {
		t.Fatal("expected InvalidInput for short UV plane")
	}
}

func TestNV12ToRGB24CPU_BlackAndWhiteExtremes(t *testing.T) {
	const w, h, pitch = 2, 2, 2
	black := make([]byte, pitch*h)
	for i := range black {
		black[i] = 16 // Y=16 is BT.601 limited-range black
	}
	uv := make([]byte, pitch*h/2)
	for i := range uv {
		uv[i] = 128
	}
	rgb, err := NV12ToRGB24CPU(w, h, pitch, black, uv)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	for i, v := range rgb {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0 for BT.601 black", i, v)
		}
	}
}
