package facematch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func pngPhoto(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizePhotoDownscales(t *testing.T) {
	out, err := NormalizePhoto(pngPhoto(t, 1280, 640), 640)
	if err != nil {
		t.Fatalf("NormalizePhoto: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 320 {
		t.Fatalf("size = %dx%d, want 640x320", b.Dx(), b.Dy())
	}
}

func TestNormalizePhotoKeepsSmallImages(t *testing.T) {
	out, err := NormalizePhoto(pngPhoto(t, 100, 80), 640)
	if err != nil {
		t.Fatalf("NormalizePhoto: %v", err)
	}
	img, _ := jpeg.Decode(bytes.NewReader(out))
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 80 {
		t.Fatalf("size = %dx%d, want 100x80", b.Dx(), b.Dy())
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h, with no
// pixel data. It is a few dozen bytes whatever the declared size.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestNormalizePhotoRejectsOversizedCanvas(t *testing.T) {
	cases := []struct {
		name string
		w, h uint32
	}{
		{"square bomb", 12000, 12000},
		{"one long side", 100000, 10},
		{"too many pixels", 8000, 8000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := pngHeader(tc.w, tc.h)
			if len(raw) > 64 {
				t.Fatalf("header is %d bytes", len(raw))
			}
			if _, err := NormalizePhoto(raw, 640); !errors.Is(err, ErrBadPhoto) {
				t.Fatalf("err = %v, want ErrBadPhoto", err)
			}
		})
	}
}

func TestCheckDimensions(t *testing.T) {
	if err := checkDimensions(4032, 3024); err != nil {
		t.Fatalf("phone photo rejected: %v", err)
	}
	if err := checkDimensions(0, 10); err == nil {
		t.Fatal("zero width accepted")
	}
}

func TestNormalizePhotoRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("definitely not an image")} {
		if _, err := NormalizePhoto(raw, 640); !errors.Is(err, ErrBadPhoto) {
			t.Fatalf("NormalizePhoto(%q) error = %v, want ErrBadPhoto", raw, err)
		}
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    Match
		wantErr error
	}{
		{"matched", http.StatusOK, `{"label":" WRK007 ","confidence":0.91}`, Match{WorkerCode: "WRK007", Confidence: 0.91}, nil},
		{"no face", http.StatusUnprocessableEntity, `{}`, Match{}, nil},
		{"server down", http.StatusBadGateway, ``, Match{}, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/match" {
					t.Errorf("path = %s, want /v1/match", r.URL.Path)
				}
				if _, _, err := r.FormFile("image"); err != nil {
					t.Errorf("missing image part: %v", err)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL + "/", Timeout: time.Second, MaxPhotoPx: 320})
			got, err := c.Match(context.Background(), pngPhoto(t, 64, 64))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Match = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMatchTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Match(context.Background(), pngPhoto(t, 32, 32))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Match took %v, timeout not applied", elapsed)
	}
}

func TestMatchUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})
	if _, err := c.Match(context.Background(), pngPhoto(t, 32, 32)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestEnroll(t *testing.T) {
	var gotLabel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLabel = r.FormValue("label")
		if gotLabel == "WRK404" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err := c.Enroll(context.Background(), "WRK001", pngPhoto(t, 32, 32)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if gotLabel != "WRK001" {
		t.Fatalf("label = %q, want WRK001", gotLabel)
	}
	if err := c.Enroll(context.Background(), "WRK404", pngPhoto(t, 32, 32)); !errors.Is(err, ErrNoFace) {
		t.Fatalf("Enroll err = %v, want ErrNoFace", err)
	}
}
