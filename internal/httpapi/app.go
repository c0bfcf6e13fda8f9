// Package httpapi exposes the preview pipeline, pricing and the wizard over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/firefly"
	"github.com/menta2k/drink-preview/pkg/pipeline"
	"github.com/menta2k/drink-preview/pkg/types"
	"github.com/menta2k/drink-preview/pkg/wizard"
)

const maxBodyBytes = 1 << 20

type Previewer interface {
	GeneratePreview(ctx context.Context, req pipeline.Request) (*types.PreviewResult, error)
}

type CatalogSource interface {
	Catalog(ctx context.Context) (types.Catalog, error)
}

type PriceCalculator interface {
	Calculate(ctx context.Context, cfg types.DrinkConfig) (types.PriceBreakdown, error)
}

type Recommender interface {
	Recommend(ctx context.Context, variantIndex int) (*wizard.Recommendation, error)
}

// IndexTrainer rebuilds and reports on the rerank index.
type IndexTrainer interface {
	TrainIndex(ctx context.Context) (int, error)
	WizardEnabled(ctx context.Context) (bool, error)
}

type PreviewGetter interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// App holds the handler dependencies. Only Previewer is required; routes whose
// dependency is nil answer 503.
type App struct {
	Previewer   Previewer
	Catalog     CatalogSource
	Pricer      PriceCalculator
	Recommender Recommender
	Trainer     IndexTrainer
	Previews    PreviewGetter
	Log         zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

// fail maps pipeline errors onto status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	var ve *pipeline.ValidationError
	var ge *firefly.GenerationError
	switch {
	case errors.As(err, &ve):
		a.error(w, http.StatusBadRequest, "invalid_config", ve.Error())
	case errors.Is(err, pipeline.ErrValidation):
		a.error(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.As(err, &ge):
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg("image generation failed")
		a.error(w, http.StatusBadGateway, "generation_failed", ge.Error())
	default:
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
		a.error(w, http.StatusInternalServerError, "internal", message)
	}
}
