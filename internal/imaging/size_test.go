package imaging

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectSize(t *testing.T) {
	if got := DetectSize(pngBytes(t, 640, 480)); got != "640x480" {
		t.Fatalf("DetectSize() = %q, want 640x480", got)
	}
}

func TestDetectSizeInvalidBytes(t *testing.T) {
	if got := DetectSize([]byte("not an image")); got != SizeUnknown {
		t.Fatalf("DetectSize() = %q, want %q", got, SizeUnknown)
	}
	if got := DetectSize(nil); got != SizeUnknown {
		t.Fatalf("DetectSize(nil) = %q, want %q", got, SizeUnknown)
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name             string
		w, h, maxW, maxH int
		wantW, wantH     int
	}{
		{"already fits", 800, 600, 1664, 1664, 800, 600},
		{"scales down wide", 3328, 1664, 1664, 1664, 1664, 832},
		{"scales down tall", 1000, 4000, 1664, 1664, 416, 1664},
		{"exact bound", 1664, 1664, 1664, 1664, 1664, 1664},
		{"degenerate input passes through", 0, 100, 1664, 1664, 0, 100},
		{"never below one pixel", 100000, 10, 100, 100, 100, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotW, gotH := FitSize(tc.w, tc.h, tc.maxW, tc.maxH)
			if gotW != tc.wantW || gotH != tc.wantH {
				t.Fatalf("FitSize() = %dx%d, want %dx%d", gotW, gotH, tc.wantW, tc.wantH)
			}
		})
	}
}
