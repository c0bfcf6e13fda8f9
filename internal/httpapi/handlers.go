package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/menta2k/drink-preview/internal/cache"
	"github.com/menta2k/drink-preview/pkg/pipeline"
	"github.com/menta2k/drink-preview/pkg/types"
	"github.com/menta2k/drink-preview/pkg/wizard"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// drinkRequest accepts {"config": {...}, ...} or a bare config.
type drinkRequest struct {
	Config     *types.DrinkConfig `json:"config"`
	LogoURL    string             `json:"logoUrl"`
	EnableLogo *bool              `json:"enableLogo"`
}

func decodeDrinkRequest(w http.ResponseWriter, r *http.Request) (drinkRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return drinkRequest{}, fmt.Errorf("read body: %w", err)
	}
	var req drinkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return drinkRequest{}, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Config == nil {
		var cfg types.DrinkConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			return drinkRequest{}, fmt.Errorf("invalid payload: %w", err)
		}
		req.Config = &cfg
	}
	return req, nil
}

func (a *App) GeneratePreview(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDrinkRequest(w, r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	preq := pipeline.Request{
		Config:     *req.Config,
		LogoURL:    req.LogoURL,
		EnableLogo: req.EnableLogo == nil || *req.EnableLogo,
	}
	if a.Catalog != nil {
		catalog, err := a.Catalog.Catalog(r.Context())
		if err != nil {
			a.Log.Warn().Err(err).Msg("catalog unavailable, building prompt without exclusions")
		} else {
			preq.Catalog = &catalog
		}
	}

	res, err := a.Previewer.GeneratePreview(r.Context(), preq)
	if err != nil {
		a.fail(w, r, err, "failed to generate preview")
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	if a.Pricer == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "pricing is not configured")
		return
	}
	req, err := decodeDrinkRequest(w, r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	b, err := a.Pricer.Calculate(r.Context(), *req.Config)
	if err != nil {
		a.fail(w, r, err, "failed to calculate price")
		return
	}
	a.json(w, http.StatusOK, b)
}

type wizardRequest struct {
	VariantIndex json.Number `json:"variantIndex"`
}

// variant is lenient like the browser client: anything unparseable is variant 0.
func (req wizardRequest) variant() int {
	if req.VariantIndex == "" {
		return 0
	}
	if n, err := req.VariantIndex.Int64(); err == nil && n > 0 {
		return int(n)
	}
	if f, err := strconv.ParseFloat(string(req.VariantIndex), 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}

func (a *App) WizardGenerate(w http.ResponseWriter, r *http.Request) {
	if a.Recommender == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "wizard is not configured")
		return
	}
	var req wizardRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.Log.Debug().Err(err).Msg("ignoring malformed wizard request body")
	}

	rec, err := a.Recommender.Recommend(r.Context(), req.variant())
	switch {
	case errors.Is(err, wizard.ErrNoPreferences):
		a.error(w, http.StatusBadRequest, "no_preferences", "No preferences found. Please set preferences in Admin panel.")
		return
	case errors.Is(err, wizard.ErrNoDocuments):
		a.error(w, http.StatusBadRequest, "no_documents", "No documents indexed. Please train the index in Admin panel.")
		return
	case err != nil:
		a.fail(w, r, err, "failed to generate recommendation")
		return
	}
	a.json(w, http.StatusOK, rec)
}

func (a *App) WizardStatus(w http.ResponseWriter, r *http.Request) {
	enabled := false
	if a.Trainer != nil && a.Recommender != nil {
		ok, err := a.Trainer.WizardEnabled(r.Context())
		if err != nil {
			a.Log.Warn().Err(err).Msg("wizard status check failed")
		}
		enabled = ok
	}
	a.json(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (a *App) TrainIndex(w http.ResponseWriter, r *http.Request) {
	if a.Trainer == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "catalog is not configured")
		return
	}
	n, err := a.Trainer.TrainIndex(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to train index")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Index training completed",
		"documentCount": n,
	})
}

func (a *App) GetPreview(w http.ResponseWriter, r *http.Request) {
	if a.Previews == nil {
		a.error(w, http.StatusNotFound, "not_found", "preview storage is not configured")
		return
	}
	data, err := a.Previews.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cache.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "preview not found or expired")
		return
	}
	if err != nil {
		a.fail(w, r, err, "failed to load preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
