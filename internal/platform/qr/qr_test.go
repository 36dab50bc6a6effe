package qr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestPNG(t *testing.T) {
	png, err := PNG("http://localhost:5173/doctor?id=r1&token=t", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(png, pngMagic) {
		t.Fatal("expected PNG signature")
	}
}

func TestPNG_Empty(t *testing.T) {
	if _, err := PNG("", 0); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestDataURL(t *testing.T) {
	u, err := DataURL("http://localhost:5173/doctor?id=r1&token=t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %s", u[:32])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, "data:image/png;base64,"))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if !bytes.HasPrefix(raw, pngMagic) {
		t.Fatal("expected PNG payload")
	}
}
