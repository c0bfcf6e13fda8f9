package processing

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/menta2k/drink-preview/pkg/types"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestDataURLRoundTrip(t *testing.T) {
	data, err := EncodePNG(solid(4, 3, color.NRGBA{10, 20, 30, 255}))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	raw, ct, err := DecodeDataURL(DataURL("image/png", data))
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	img, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestDecodeDataURLRejectsPlainText(t *testing.T) {
	if _, _, err := DecodeDataURL("data:text/plain,hello"); err == nil {
		t.Fatal("expected error for non-base64 data URL")
	}
	if _, _, err := DecodeDataURL("https://example.com/a.png"); err == nil {
		t.Fatal("expected error for non-data URL")
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	if _, err := Decode([]byte("definitely not an image")); err != ErrUnknownFormat {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestLoadImageFromURL(t *testing.T) {
	data, _ := EncodePNG(solid(8, 8, color.NRGBA{255, 0, 0, 255}))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cup.png":
			if r.Header.Get("User-Agent") != defaultUserAgent {
				t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	p := NewProcessor(Options{})
	img, err := p.LoadImageFromURL(context.Background(), ts.URL+"/cup.png")
	if err != nil {
		t.Fatalf("LoadImageFromURL: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}
	if _, err := p.LoadImageFromURL(context.Background(), ts.URL+"/page"); err == nil {
		t.Fatal("expected error for non-image content type")
	}
	if _, err := p.LoadImageFromURL(context.Background(), ts.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := p.LoadImageFromURL(context.Background(), "ftp://example.com/x.png"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestFetchEnforcesMaxBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 64))
	}))
	defer ts.Close()

	p := NewProcessor(Options{MaxBytes: 32})
	if _, _, err := p.Fetch(context.Background(), ts.URL); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestPrepareImageForModelResizes(t *testing.T) {
	p := NewProcessor(Options{})
	b64, err := p.PrepareImageForModel(solid(400, 200, color.NRGBA{0, 0, 255, 255}), "png", 100, 0)
	if err != nil {
		t.Fatalf("PrepareImageForModel: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("not base64: %v", err)
	}
	img, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Fatalf("expected 100x50, got %v", img.Bounds())
	}
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor(Options{})
	base := solid(100, 100, color.NRGBA{255, 255, 255, 255})
	logo := image.Rect(40, 60, 60, 80)
	out := p.CreateDebugOverlay(base, Overlay{
		Cup: &types.CupCoordinates{X: 0.2, Y: 0.2, Width: 0.6, Height: 0.6, CenterX: 0.5, CenterY: 0.5, Confidence: 0.9},
		Detailed: &types.DetailedCupPoints{
			TargetCenter: types.Point{X: 0.5, Y: 0.5},
			CupStructure: types.CupStructure{RimY: 0.2, BottomY: 0.8, RimLeftX: 0.25, RimRightX: 0.75, CupCenterX: 0.5},
		},
		Logo: &logo,
	})

	nrgba, ok := out.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected *image.NRGBA, got %T", out)
	}
	if got := nrgba.NRGBAAt(20, 50); got != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("cup box edge not drawn: %v", got)
	}
	if got := nrgba.NRGBAAt(45, 60); got != (color.NRGBA{0, 170, 255, 255}) {
		t.Errorf("logo rect edge not drawn: %v", got)
	}
	if got := nrgba.NRGBAAt(5, 5); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("untouched pixel changed: %v", got)
	}
	if got := base.NRGBAAt(20, 50); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Error("source image must not be modified")
	}
}
