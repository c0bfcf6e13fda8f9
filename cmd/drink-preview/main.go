package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	drinkpreview "github.com/menta2k/drink-preview"
	"github.com/menta2k/drink-preview/internal/config"
	"github.com/menta2k/drink-preview/internal/logger"
	"github.com/menta2k/drink-preview/internal/utils"
	"github.com/menta2k/drink-preview/pkg/detection"
	"github.com/menta2k/drink-preview/pkg/firefly"
	"github.com/menta2k/drink-preview/pkg/placement"
	"github.com/menta2k/drink-preview/pkg/processing"
	"github.com/menta2k/drink-preview/pkg/prompt"
	"github.com/menta2k/drink-preview/pkg/types"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseSyrup reads "name:pumps"; a missing count means one pump.
func parseSyrup(v string) (types.SyrupSelection, error) {
	name, count, found := strings.Cut(v, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return types.SyrupSelection{}, fmt.Errorf("syrup %q has no name", v)
	}
	if !found {
		return types.SyrupSelection{Name: name, PumpCount: 1}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil {
		return types.SyrupSelection{}, fmt.Errorf("syrup %q: pump count must be a number", v)
	}
	return types.SyrupSelection{Name: name, PumpCount: n}, nil
}

// output is what result.json records.
type output struct {
	Config         types.DrinkConfig `json:"config"`
	Prompt         string            `json:"prompt"`
	NegativePrompt string            `json:"negativePrompt"`
	BaseImageURL   string            `json:"baseImageUrl"`
	Method         types.Method      `json:"method"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	File           string            `json:"file,omitempty"`
	SourceAnalysis any               `json:"sourceAnalysis,omitempty"`
}

func main() {
	var base, size, milk, temp, ice, name string
	var syrups, toppings listFlag
	var logo, imageSrc, backend, url, model, outDir, ext, cfgPath string
	var noLogo, debug, promptOnly, testVision bool

	flag.StringVar(&base, "base", "", "drink base, e.g. Latte (required)")
	flag.StringVar(&size, "size", "Grande", "cup size: Short|Tall|Grande|Venti|Trenta")
	flag.StringVar(&milk, "milk", "", "milk option")
	flag.Var(&syrups, "syrup", "syrup as name:pumps (repeatable)")
	flag.Var(&toppings, "topping", "topping (repeatable)")
	flag.StringVar(&temp, "temp", "Hot", "temperature: Hot|Iced|Blended")
	flag.StringVar(&ice, "ice", "", "ice level")
	flag.StringVar(&name, "name", "", "drink name used for the output file")

	flag.StringVar(&logo, "logo", "", "logo path or URL (defaults to LOGO_URL)")
	flag.BoolVar(&noLogo, "nologo", false, "skip logo placement")
	flag.StringVar(&imageSrc, "image", "", "composite onto this image path or URL instead of generating one")

	flag.StringVar(&backend, "backend", "", "vision backend: openai|ollama|gemini (defaults to VISION_BACKEND)")
	flag.StringVar(&url, "url", "", "vision server URL (defaults per backend)")
	flag.StringVar(&model, "model", "", "vision model name (defaults per backend)")

	flag.StringVar(&outDir, "out", "out", "output directory")
	flag.StringVar(&ext, "ext", "png", "output format: png|webp")
	flag.BoolVar(&debug, "debug", false, "write an overlay with the detected cup and logo rectangle")
	flag.BoolVar(&promptOnly, "prompt-only", false, "print the prompt pair and exit")
	flag.BoolVar(&testVision, "test-vision", false, "ask the vision model to describe -image and exit")
	flag.StringVar(&cfgPath, "config", "", "JSON config file (env overrides still apply)")
	flag.Parse()

	_ = godotenv.Load()

	appEnv := "production"
	if debug {
		appEnv = "development"
	}
	log := logger.NewWithWriter(appEnv, os.Stderr)

	if base == "" && !testVision {
		log.Fatal().Msgf("usage: %s -base Latte [-size Grande] [-milk Oat] [-syrup Vanilla:2] [-topping Cinnamon] [-temp Hot|Iced|Blended] [-logo logo.png|URL] [-image base.png|URL] [-out outdir] [-ext png|webp] [-prompt-only] [-test-vision -image cup.png]", filepath.Base(os.Args[0]))
	}
	ext = strings.ToLower(ext)
	if ext != "png" && ext != "webp" {
		log.Fatal().Str("ext", ext).Msg("output format must be png or webp")
	}

	drink := types.DrinkConfig{
		Base:        base,
		Size:        size,
		Milk:        milk,
		Toppings:    toppings,
		Temperature: types.Temperature(temp),
		IceLevel:    ice,
		Name:        name,
	}
	for _, s := range syrups {
		sel, err := parseSyrup(s)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -syrup")
		}
		drink.Syrups = append(drink.Syrups, sel)
	}

	withLogo := !noLogo
	var pair types.PromptPair
	if withLogo {
		pair = prompt.BuildForLogo(drink, nil)
	} else {
		pair = prompt.Build(drink, nil)
	}
	if promptOnly {
		fmt.Printf("prompt:\n%s\n\nnegative prompt:\n%s\n", pair.Prompt, pair.NegativePrompt)
		return
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if backend != "" {
		cfg.Vision.Backend = backend
	}
	if url != "" {
		cfg.Vision.URL = url
	}
	if model != "" {
		cfg.Vision.Model = model
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := drinkpreview.Options{Logger: &log}

	if testVision {
		if imageSrc == "" {
			log.Fatal().Msg("-test-vision needs -image")
		}
		answer, err := visionSmokeTest(ctx, cfg, imageSrc, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("vision test failed")
		}
		fmt.Println(answer)
		return
	}

	if logo == "" {
		logo = cfg.Compositor.LogoURL
	}
	if withLogo && logo == "" {
		log.Fatal().Msg("no logo: pass -logo, set LOGO_URL or use -nologo")
	}

	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal().Err(err).Msg("output directory")
	}

	processor := processing.NewProcessor(processing.Options{HTTPClient: opts.HTTPClient})

	// Firefly is optional when compositing onto an existing image.
	var ff *firefly.Client
	if cfg.Firefly.ClientID != "" || imageSrc == "" {
		ff, err = drinkpreview.NewFireflyClient(cfg.Firefly, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("firefly client")
		}
	}

	baseURL := imageSrc
	if baseURL == "" {
		baseURL, err = firefly.NewGenerator(ff).Generate(ctx, pair.Prompt, pair.NegativePrompt, cfg.Firefly.UseCustomModel)
		if err != nil {
			log.Fatal().Err(err).Msg("image generation failed")
		}
		log.Info().Str("url", baseURL).Msg("base image generated")
	} else if baseURL, err = sourceURL(baseURL); err != nil {
		log.Fatal().Err(err).Msg("invalid -image")
	}

	res := output{Config: drink, Prompt: pair.Prompt, NegativePrompt: pair.NegativePrompt, BaseImageURL: baseURL, Method: types.MethodNoLogo}
	placed := types.CompositeResult{ImageURL: baseURL, Method: types.MethodNoLogo}
	if withLogo {
		logoURL, err := sourceURL(logo)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -logo")
		}
		orch, _, closer, err := drinkpreview.NewOrchestrator(ctx, cfg, ff, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("vision backend")
		}
		defer closer()
		placed = orch.Place(ctx, placement.Request{BaseImageURL: baseURL, LogoURL: logoURL, Prompt: pair})
		res.Method = placed.Method
		res.SourceAnalysis = placed.SourceAnalysis
	}

	if len(placed.ImageData) == 0 {
		// Remote and descriptive tiers, or no logo: the result lives at a URL.
		res.ImageURL = placed.ImageURL
		log.Info().Str("method", string(res.Method)).Str("url", res.ImageURL).Msg("no local composite")
		if img, err := processor.LoadImageSmart(ctx, placed.ImageURL); err == nil {
			res.File = utils.OutputPath(outDir, drinkName(drink), ext)
			if err := processor.SaveImage(img, res.File, ext, 92, false); err != nil {
				log.Error().Err(err).Str("path", res.File).Msg("save failed")
				res.File = ""
			}
		} else {
			log.Warn().Err(err).Msg("could not download result image")
		}
	} else {
		img, err := processing.Decode(placed.ImageData)
		if err != nil {
			log.Fatal().Err(err).Msg("decode composite")
		}
		res.File = utils.OutputPath(outDir, drinkName(drink), ext)
		if err := processor.SaveImage(img, res.File, ext, 92, false); err != nil {
			log.Fatal().Err(err).Str("path", res.File).Msg("save failed")
		}
		if info, err := os.Stat(res.File); err == nil {
			log.Info().Str("path", res.File).Str("size", utils.FormatFileSize(info.Size())).Str("method", string(res.Method)).Msg("wrote preview")
		}

		if debug {
			writeDebugOverlay(log, processor, img, placed, outDir, ext)
		}
	}

	js, _ := json.MarshalIndent(res, "", "  ")
	if err := os.WriteFile(filepath.Join(outDir, "result.json"), js, 0o644); err != nil {
		log.Error().Err(err).Msg("write result.json")
	}
}

// visionSmokeTest asks the configured model to describe src, showing whether the
// backend receives images at all.
func visionSmokeTest(ctx context.Context, cfg *config.Config, src string, opts drinkpreview.Options) (string, error) {
	vc, model, closer, err := drinkpreview.NewVisionClient(ctx, cfg.Vision, opts)
	if err != nil {
		return "", err
	}
	defer closer()

	p := processing.NewProcessor(processing.Options{HTTPClient: opts.HTTPClient})
	img, err := p.LoadImageSmart(ctx, src)
	if err != nil {
		return "", err
	}
	imgB64, err := p.PrepareImageForModel(img, "jpg", cfg.Vision.SendSize, 85)
	if err != nil {
		return "", err
	}
	det := detection.NewDetector(vc, detection.Options{Model: model, Logger: opts.Logger})
	return det.TestVision(ctx, imgB64)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// sourceURL turns a local image path into a data URL; URLs pass through.
func sourceURL(src string) (string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "data:") {
		return src, nil
	}
	if !utils.FileExists(src) {
		return "", fmt.Errorf("%s: no such file", src)
	}
	if !utils.IsImageFile(src) {
		return "", fmt.Errorf("%s: not an image file", src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	return processing.DataURL(http.DetectContentType(data), data), nil
}

func drinkName(c types.DrinkConfig) string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.Size + " " + c.Base)
}

func writeDebugOverlay(log zerolog.Logger, p *processing.Processor, img image.Image, placed types.CompositeResult, outDir, ext string) {
	o := processing.Overlay{Logo: placed.LogoRect}
	switch s := placed.SourceAnalysis.(type) {
	case *types.DetailedCupPoints:
		o.Detailed = s
	case *types.CupCoordinates:
		o.Cup = s
	}
	path := filepath.Join(outDir, "debug_overlay."+ext)
	if err := p.SaveImage(p.CreateDebugOverlay(img, o), path, ext, 92, false); err != nil {
		log.Warn().Err(err).Msg("debug overlay save failed")
		return
	}
	log.Info().Str("path", path).Msg("wrote debug overlay")
}
