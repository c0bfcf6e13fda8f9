package detection

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

type fakeVision struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeVision) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeVision) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestDetectBasicAcceptsValidFencedJSON(t *testing.T) {
	fv := &fakeVision{reply: "Here you go:\n```json\n{\"x\":0.3,\"y\":0.2,\"width\":0.4,\"height\":0.6,\"confidence\":0.92,\"cupType\":\"Paper\",\"centerX\":0.5,\"centerY\":0.5,}\n```"}
	d := NewDetector(fv, Options{Model: "gpt-4o"})

	got, err := d.DetectBasic(context.Background(), "QUJD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected coordinates")
	}
	if got.Width != 0.4 || got.CenterY != 0.5 || got.CupType != "paper" {
		t.Fatalf("unexpected coordinates: %+v", got)
	}
	if !strings.Contains(fv.prompts[0], "IGNORE ALL FOAM") {
		t.Fatal("basic prompt must instruct foam exclusion")
	}
}

func TestDetectBasicRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"out of range":    `{"x":1.3,"y":0.2,"width":0.4,"height":0.6,"confidence":0.9,"centerX":0.5,"centerY":0.5}`,
		"zero width":      `{"x":0.3,"y":0.2,"width":0,"height":0.6,"confidence":0.9,"centerX":0.5,"centerY":0.5}`,
		"missing field":   `{"x":0.3,"y":0.2,"width":0.4,"confidence":0.9,"centerX":0.5,"centerY":0.5}`,
		"low confidence":  `{"x":0.3,"y":0.2,"width":0.4,"height":0.6,"confidence":0.5,"centerX":0.5,"centerY":0.5}`,
		"percent conf":    `{"x":0.3,"y":0.2,"width":0.4,"height":0.6,"confidence":95,"centerX":0.5,"centerY":0.5}`,
		"not json":        `I cannot see a cup in this image.`,
		"empty":           ``,
		"negative center": `{"x":0.3,"y":0.2,"width":0.4,"height":0.6,"confidence":0.9,"centerX":-0.1,"centerY":0.5}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDetector(&fakeVision{reply: reply}, Options{})
			got, err := d.DetectBasic(context.Background(), "QUJD")
			if err != nil {
				t.Fatalf("detection failure must not be an error: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil, got %+v", got)
			}
		})
	}
}

func TestDetectBasicTransportErrorIsNil(t *testing.T) {
	d := NewDetector(&fakeVision{err: errors.New("connection refused")}, Options{})
	got, err := d.DetectBasic(context.Background(), "QUJD")
	if got != nil || err != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", got, err)
	}
}

func TestDetectBasicCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDetector(&fakeVision{err: context.Canceled}, Options{})
	if _, err := d.DetectBasic(ctx, "QUJD"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDetectDetailedNormalizes(t *testing.T) {
	reply := `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":205,"bottomY":819,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":90}`
	fv := &fakeVision{reply: reply}
	d := NewDetector(fv, Options{})

	got, err := d.DetectDetailed(context.Background(), "QUJD", 1024, 1024)
	if err != nil || got == nil {
		t.Fatalf("expected points, got %+v, %v", got, err)
	}
	if math.Abs(got.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence not scaled: %v", got.Confidence)
	}
	if math.Abs(got.CupStructure.CupCenterX-0.5) > 1e-9 {
		t.Errorf("cupCenterX not normalized: %v", got.CupStructure.CupCenterX)
	}
	if math.Abs(got.CupStructure.BottomY-0.7998) > 1e-3 {
		t.Errorf("bottomY not normalized: %v", got.CupStructure.BottomY)
	}
	if !strings.Contains(fv.prompts[0], "1024x1024") {
		t.Error("detailed prompt must carry the image size")
	}
}

func TestDetectDetailedRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"outside image":   `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":205,"bottomY":1300,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":90}`,
		"missing struct":  `{"targetCenter":{"x":512,"y":614},"confidence":90}`,
		"flat cup":        `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":400,"bottomY":400,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":90}`,
		"inverted rim":    `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":205,"bottomY":819,"rimLeftX":674,"rimRightX":350,"cupCenterX":512},"confidence":90}`,
		"low confidence":  `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":205,"bottomY":819,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":40}`,
		"over 100":        `{"targetCenter":{"x":512,"y":614},"cupStructure":{"rimY":205,"bottomY":819,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":140}`,
		"missing target":  `{"cupStructure":{"rimY":205,"bottomY":819,"rimLeftX":350,"rimRightX":674,"cupCenterX":512},"confidence":90}`,
		"garbage":         `{"targetCenter":`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewDetector(&fakeVision{reply: reply}, Options{})
			got, err := d.DetectDetailed(context.Background(), "QUJD", 1024, 1024)
			if err != nil || got != nil {
				t.Fatalf("expected nil, nil; got %+v, %v", got, err)
			}
		})
	}
}

func TestDetectDetailedZeroSize(t *testing.T) {
	fv := &fakeVision{reply: `{}`}
	d := NewDetector(fv, Options{})
	if got, _ := d.DetectDetailed(context.Background(), "QUJD", 0, 1024); got != nil {
		t.Fatal("expected nil for zero width")
	}
	if len(fv.prompts) != 0 {
		t.Fatal("vision model should not be called without an image size")
	}
}

func TestAnalyze(t *testing.T) {
	reply := `{
  "primary": {"x":0.3,"y":0.25,"width":0.4,"height":0.6,"confidence":0.85,"cupType":"plastic","centerX":0.5,"centerY":0.55},
  "suggestions": [
    {"area":"Lower","coordinates":{"x":0.3,"y":0.6,"width":0.4,"height":0.2,"confidence":0.8,"cupType":"plastic","centerX":0.5,"centerY":0.7},"reasoning":"below the cream"},
    {"area":"upper","coordinates":{"x":0.3,"y":0.6,"width":2,"height":0.2,"confidence":0.8,"centerX":0.5,"centerY":0.7},"reasoning":"bad"}
  ],
  "imageAnalysis": {"cupCount":1,"dominantColors":["brown","white"],"lighting":"bright","background":"clean","hasCreamLayer":true,"beverage":"latte"}
}`
	d := NewDetector(&fakeVision{reply: reply}, Options{})
	got, err := d.Analyze(context.Background(), "QUJD")
	if err != nil || got == nil {
		t.Fatalf("expected analysis, got %+v, %v", got, err)
	}
	if got.Primary == nil || got.Primary.CupType != "plastic" {
		t.Fatalf("unexpected primary: %+v", got.Primary)
	}
	if len(got.Suggestions) != 1 || got.Suggestions[0].Area != "lower" {
		t.Fatalf("invalid suggestion should be dropped: %+v", got.Suggestions)
	}
	if !got.ImageAnalysis.HasCreamLayer || got.ImageAnalysis.CupCount != 1 {
		t.Fatalf("unexpected image analysis: %+v", got.ImageAnalysis)
	}
}

func TestAnalyzePrimaryNeedsConfidenceAboveThreshold(t *testing.T) {
	reply := `{"primary":{"x":0.3,"y":0.25,"width":0.4,"height":0.6,"confidence":0.7,"centerX":0.5,"centerY":0.55},"imageAnalysis":{"hasCreamLayer":true}}`
	d := NewDetector(&fakeVision{reply: reply}, Options{})
	got, err := d.Analyze(context.Background(), "QUJD")
	if err != nil || got == nil {
		t.Fatalf("expected analysis, got %+v, %v", got, err)
	}
	if got.Primary != nil {
		t.Fatalf("primary at exactly 0.7 must be dropped: %+v", got.Primary)
	}
	if !got.ImageAnalysis.HasCreamLayer {
		t.Fatal("image analysis must survive a dropped primary")
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	in := "```json\n{\n  // the cup\n  \"x\": 0.1, /* left */\n  \"tags\": [\"a\",],\n}\n```"
	want := "{\n\n  \"x\": 0.1, \n  \"tags\": [\"a\"]\n}"
	if got := sanitizeModelJSON(in); got != want {
		t.Fatalf("sanitizeModelJSON:\n got %q\nwant %q", got, want)
	}
}

func TestDetectBasicIgnoresTrailingProseWithBraces(t *testing.T) {
	reply := `{"x":0.3,"y":0.2,"width":0.4,"height":0.6,"confidence":0.9,"cupType":"paper","centerX":0.5,"centerY":0.5}` +
		"\nNote: handle excluded {approx}."
	d := NewDetector(&fakeVision{reply: reply}, Options{})

	got, err := d.DetectBasic(context.Background(), "QUJD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Width != 0.4 {
		t.Fatalf("expected coordinates, got %+v", got)
	}
}

func TestSanitizeModelJSONFirstBalancedObject(t *testing.T) {
	cases := map[string]string{
		`{"a":{"b":1}} then {c}`:         `{"a":{"b":1}}`,
		`x {"note":"has } brace"} {y}`:   `{"note":"has } brace"}`,
		`{"q":"say \"}\" ok"} tail }`:    `{"q":"say \"}\" ok"}`,
		`{"open": 1, "unterminated": {}`: `{"open": 1, "unterminated": {}`,
	}
	for in, want := range cases {
		if got := sanitizeModelJSON(in); got != want {
			t.Errorf("sanitizeModelJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTestVision(t *testing.T) {
	fv := &fakeVision{reply: "a paper cup of coffee"}
	d := NewDetector(fv, Options{})
	got, err := d.TestVision(context.Background(), "QUJD")
	if err != nil || got != "a paper cup of coffee" {
		t.Fatalf("TestVision = %q, %v", got, err)
	}
	if fv.prompts[0] != SimpleTestPrompt {
		t.Fatalf("unexpected prompt %q", fv.prompts[0])
	}
}
