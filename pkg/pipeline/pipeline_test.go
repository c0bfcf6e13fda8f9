package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/menta2k/drink-preview/pkg/firefly"
	"github.com/menta2k/drink-preview/pkg/placement"
	"github.com/menta2k/drink-preview/pkg/types"
)

type fakeGenerator struct {
	url      string
	err      error
	prompt   string
	negative string
	custom   bool
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, p, n string, useCustom bool) (string, error) {
	f.calls++
	f.prompt, f.negative, f.custom = p, n, useCustom
	return f.url, f.err
}

type fakePlacer struct {
	result types.CompositeResult
	got    placement.Request
	called bool
	panics bool
}

func (f *fakePlacer) Place(ctx context.Context, req placement.Request) types.CompositeResult {
	f.called = true
	f.got = req
	if f.panics {
		panic("decoder exploded")
	}
	return f.result
}

type fakeStore struct {
	saved []byte
	err   error
}

func (f *fakeStore) Save(ctx context.Context, data []byte) (string, error) {
	f.saved = data
	return "preview-1", f.err
}

var latte = types.DrinkConfig{Base: "Latte", Size: "Grande", Milk: "Whole Milk", Temperature: types.TempHot}

func TestValidation(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	p, _ := New(Options{Generator: gen})

	cases := []types.DrinkConfig{
		{Size: "Grande"},
		{Base: "   "},
		{Base: "Latte", Temperature: "Lukewarm"},
	}
	for _, cfg := range cases {
		_, err := p.GeneratePreview(context.Background(), Request{Config: cfg})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%+v: expected ErrValidation, got %v", cfg, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field == "" {
			t.Errorf("%+v: expected ValidationError with field, got %v", cfg, err)
		}
	}
	if gen.calls != 0 {
		t.Fatal("generator must not run for invalid configs")
	}
}

func TestValidateClampsPumps(t *testing.T) {
	cfg, err := Validate(types.DrinkConfig{Base: "Latte", Syrups: []types.SyrupSelection{{Name: "Vanilla", PumpCount: 9}, {Name: "Mocha", PumpCount: 0}}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Syrups[0].PumpCount != 5 || cfg.Syrups[1].PumpCount != 1 {
		t.Fatalf("pumps not clamped: %+v", cfg.Syrups)
	}
}

func TestWithoutLogo(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	placer := &fakePlacer{}
	p, _ := New(Options{Generator: gen, Placer: placer, DefaultLogoURL: "https://cdn/logo.png", UseCustomModel: true})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, EnableLogo: false})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if placer.called {
		t.Fatal("placement must not run when the logo is disabled")
	}
	if res.ImageURL != "https://cdn/img.png" || res.Method != types.MethodNoLogo {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Prompt, "grande white paper cup with brown cardboard sleeve") {
		t.Fatalf("unexpected prompt: %s", res.Prompt)
	}
	if strings.Contains(res.NegativePrompt, "logo, branding") {
		t.Fatal("plain build must not add logo exclusions")
	}
	if !gen.custom {
		t.Fatal("custom model flag should be forwarded")
	}
}

func TestWithLogoComposites(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	placer := &fakePlacer{result: types.CompositeResult{ImageData: []byte("PNG"), Method: types.MethodDetailed}}
	store := &fakeStore{}
	p, _ := New(Options{Generator: gen, Placer: placer, Store: store, DefaultLogoURL: "https://cdn/default-logo.png"})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, EnableLogo: true})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if placer.got.LogoURL != "https://cdn/default-logo.png" || placer.got.BaseImageURL != "https://cdn/img.png" {
		t.Fatalf("unexpected placement request: %+v", placer.got)
	}
	if !strings.HasPrefix(gen.negative, "logo, branding, text, symbols, ") {
		t.Fatalf("logo variant must exclude generated logos: %s", gen.negative)
	}
	if res.Method != types.MethodDetailed || res.ImageURL != "data:image/png;base64,UE5H" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.PreviewID != "preview-1" || string(store.saved) != "PNG" {
		t.Fatalf("preview not stored: %+v", res)
	}
}

func TestPlacerURLResult(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	placer := &fakePlacer{result: types.CompositeResult{ImageURL: "https://cdn/img.png", Method: types.MethodBaseImage}}
	store := &fakeStore{}
	p, _ := New(Options{Generator: gen, Placer: placer, Store: store})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, LogoURL: "https://cdn/logo.png", EnableLogo: true})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if res.ImageURL != "https://cdn/img.png" || res.Method != types.MethodBaseImage || res.PreviewID != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.saved != nil {
		t.Fatal("URL results are not stored")
	}
}

func TestStoreFailureIsNotFatal(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	placer := &fakePlacer{result: types.CompositeResult{ImageData: []byte("PNG"), Method: types.MethodCenter}}
	p, _ := New(Options{Generator: gen, Placer: placer, Store: &fakeStore{err: errors.New("redis down")}})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, LogoURL: "https://cdn/logo.png", EnableLogo: true})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if res.PreviewID != "" || res.Method != types.MethodCenter {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPlacementPanicDegradesToBaseImage(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	p, _ := New(Options{Generator: gen, Placer: &fakePlacer{panics: true}})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, LogoURL: "https://cdn/logo.png", EnableLogo: true})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if res.ImageURL != "https://cdn/img.png" || res.Method != types.MethodBaseImage {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerationFailureSurfaces(t *testing.T) {
	genErr := &firefly.GenerationError{Custom: errors.New("model offline"), Standard: errors.New("quota")}
	gen := &fakeGenerator{err: genErr}
	placer := &fakePlacer{}
	p, _ := New(Options{Generator: gen, Placer: placer})

	_, err := p.GeneratePreview(context.Background(), Request{Config: latte, LogoURL: "https://cdn/logo.png", EnableLogo: true})
	var ge *firefly.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Both custom and standard models failed") {
		t.Fatalf("unexpected message: %v", err)
	}
	if placer.called {
		t.Fatal("placement must not run without a base image")
	}
}

func TestNoLogoAvailableSkipsPlacement(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	placer := &fakePlacer{}
	p, _ := New(Options{Generator: gen, Placer: placer})

	res, err := p.GeneratePreview(context.Background(), Request{Config: latte, EnableLogo: true})
	if err != nil {
		t.Fatalf("GeneratePreview: %v", err)
	}
	if placer.called || res.Method != types.MethodNoLogo {
		t.Fatalf("expected no-logo path, got %+v", res)
	}
}

func TestNewRequiresGenerator(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without generator")
	}
}
