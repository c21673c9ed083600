package embedder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"
)

func TestValidateImage(t *testing.T) {
	info, err := ValidateImage(testPNG(t, 40, 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Format != "png" || info.Width != 40 || info.Height != 20 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestValidateImage_BMP(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode bmp: %v", err)
	}

	info, err := ValidateImage(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Format != "bmp" {
		t.Errorf("expected bmp, got %s", info.Format)
	}

	prepared, err := PrepareImage(buf.Bytes(), info, 1920)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detectMIMEType(prepared) != "image/jpeg" {
		t.Errorf("expected bmp to be converted to jpeg")
	}
}

func TestValidateImage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("hello world, not an image")},
		{"truncated png", testPNG(t, 8, 8)[:10]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateImage(tc.data); !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestPrepareImage(t *testing.T) {
	t.Run("small png unchanged", func(t *testing.T) {
		data := testPNG(t, 16, 16)
		info, _ := ValidateImage(data)
		got, err := PrepareImage(data, info, 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("expected small png to be passed through")
		}
	})

	t.Run("large image downscaled", func(t *testing.T) {
		data := testPNG(t, 200, 100)
		info, _ := ValidateImage(data)
		got, err := PrepareImage(data, info, 50)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resized, err := ValidateImage(got)
		if err != nil {
			t.Fatalf("resized image invalid: %v", err)
		}
		if resized.Format != "jpeg" || resized.Width != 50 || resized.Height != 25 {
			t.Errorf("unexpected resized info %+v", resized)
		}
	})
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a\x00\x00"), "image/gif"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("abcdefgh"), "application/octet-stream"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.want {
				t.Errorf("detectMIMEType() = %s, want %s", got, tc.want)
			}
		})
	}
}
