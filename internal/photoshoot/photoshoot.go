// Package photoshoot implements the product photoshoot flow: one
// prompt-generation call produces four distinct style prompts, which fan
// out as a four-variant image batch through the orchestrator under the
// owner's lock. A failed or malformed prompt phase falls back to a stock
// style set so the shoot still runs.
package photoshoot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/fault"
	"github.com/salephoto/genflow-core/internal/orchestrator"
	"github.com/salephoto/genflow-core/internal/provider"
)

// Service runs photoshoots.
type Service struct {
	orch      *orchestrator.Orchestrator
	promptCfg config.ProviderConfig
	imageCfg  config.ProviderConfig
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Service. promptCfg and imageCfg identify the two endpoints
// (and their models) used for the prompt and image phases.
func New(orch *orchestrator.Orchestrator, promptCfg, imageCfg config.ProviderConfig, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		orch:      orch,
		promptCfg: promptCfg,
		imageCfg:  imageCfg,
		timeout:   timeout,
		logger:    logger,
	}
}

// Params describes one photoshoot.
type Params struct {
	OwnerKey           string
	ProductDescription string
	ReferenceImage     []byte
	AspectRatio        string
	RandomStyles       bool
}

// Variant is one generated image variant.
type Variant struct {
	StyleName string `json:"style_name"`
	Prompt    string `json:"prompt"`
	Image     []byte `json:"image,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Outcome is the reconciled photoshoot result. OverallSuccess follows the
// batch rule: at least one variant succeeded.
type Outcome struct {
	ProductName    string    `json:"product_name"`
	Variants       []Variant `json:"variants"`
	SuccessCount   int       `json:"success_count"`
	OverallSuccess bool      `json:"overall_success"`
}

// Generate runs the full photoshoot. It returns an error only when the
// owner already has a shoot in flight; generation failures are reported
// per variant inside the Outcome.
func (s *Service) Generate(ctx context.Context, p Params) (*Outcome, error) {
	styles, err := s.generateStyles(ctx, p)
	if err != nil {
		return nil, err
	}

	requests := make([]orchestrator.Request, 0, len(styles.Styles))
	for i, style := range styles.Styles {
		payload, err := provider.BuildImagePayload(s.imageCfg.Model, style.Prompt, p.ReferenceImage, p.AspectRatio)
		if err != nil {
			// Invalid reference image fails every variant identically;
			// surface it through the batch as zero requests is pointless.
			return nil, err
		}
		requests = append(requests, orchestrator.Request{
			ID:       fmt.Sprintf("variant-%d", i+1),
			Endpoint: s.imageCfg.Name,
			Payload:  payload,
		})
	}

	batch, err := s.orch.Run(ctx, p.OwnerKey, requests, s.timeout)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		ProductName: styles.ProductName,
		Variants:    make([]Variant, len(batch.Results)),
	}
	for i, res := range batch.Results {
		v := Variant{
			StyleName: styles.Styles[i].StyleName,
			Prompt:    styles.Styles[i].Prompt,
			Attempts:  res.Attempts,
		}
		if res.Success {
			img, perr := provider.ParseImage(res.Value)
			if perr != nil {
				v.Error = perr.Error()
			} else {
				v.Success = true
				v.Image = img
			}
		} else {
			v.Error = res.Err.Error()
		}
		if v.Success {
			out.SuccessCount++
		}
		out.Variants[i] = v
	}
	out.OverallSuccess = out.SuccessCount > 0

	if out.SuccessCount < len(out.Variants) {
		s.logger.Warn("photoshoot finished with failed variants",
			"owner", p.OwnerKey,
			"succeeded", out.SuccessCount,
			"total", len(out.Variants),
		)
	}
	return out, nil
}

// generateStyles runs the prompt phase as a single-request batch so it is
// gated by the same breaker, retry budget, and owner serialization as
// everything else. Provider failures fall back to the stock style set;
// owner lock contention aborts the shoot, since the other shoot holding
// the lock is already producing images for this owner.
func (s *Service) generateStyles(ctx context.Context, p Params) (*provider.StyleSet, error) {
	payload, err := provider.BuildPromptPayload(s.promptCfg.Model, p.ProductDescription, p.AspectRatio, p.RandomStyles)
	if err != nil {
		s.logger.Error("building prompt payload", "error", err)
		return fallbackStyles(p.AspectRatio), nil
	}

	batch, err := s.orch.Run(ctx, p.OwnerKey, []orchestrator.Request{{
		ID:       "styles",
		Endpoint: s.promptCfg.Name,
		Payload:  payload,
	}}, s.timeout)
	if err != nil {
		if fault.KindOf(err) == fault.KindLockTimeout {
			return nil, err
		}
		s.logger.Warn("prompt phase rejected", "owner", p.OwnerKey, "error", err)
		return fallbackStyles(p.AspectRatio), nil
	}
	if batch.SuccessCount == 0 {
		s.logger.Warn("prompt generation failed, using fallback styles",
			"owner", p.OwnerKey,
			"error", batch.Results[0].Err,
		)
		return fallbackStyles(p.AspectRatio), nil
	}

	set, perr := provider.ParseStyleSet(batch.Results[0].Value)
	if perr != nil {
		s.logger.Warn("prompt response unusable, using fallback styles",
			"owner", p.OwnerKey,
			"error", perr,
		)
		return fallbackStyles(p.AspectRatio), nil
	}
	return set, nil
}

// fallbackStyles returns the four stock styles used when prompt generation
// is unavailable.
func fallbackStyles(aspectRatio string) *provider.StyleSet {
	return &provider.StyleSet{
		ProductName: "Product",
		Styles: []provider.Style{
			{
				StyleName: "Lifestyle",
				Prompt: fmt.Sprintf("Professional lifestyle product photography, in use by person, natural environment, "+
					"warm natural lighting, candid moment, aspect ratio %s, shot on Canon EOS R5, 50mm f/1.8, "+
					"shallow depth of field, authentic feel, high-end commercial quality", aspectRatio),
			},
			{
				StyleName: "Studio",
				Prompt: fmt.Sprintf("Clean studio product shot, pure white background, professional studio lighting setup "+
					"with softboxes, sharp focus on every detail, ultra high resolution 8k, aspect ratio %s, "+
					"Sony A7IV, 85mm f/1.4 macro, minimal shadows, e-commerce photography, product catalog quality", aspectRatio),
			},
			{
				StyleName: "Interior",
				Prompt: fmt.Sprintf("Product elegantly placed in modern minimalist interior, natural window light creating "+
					"soft shadows, contemporary home setting, aspect ratio %s, architectural photography style, "+
					"Fujifilm GFX 100S, 35mm f/2, ambient atmosphere, lifestyle magazine quality", aspectRatio),
			},
			{
				StyleName: "Creative",
				Prompt: fmt.Sprintf("Creative conceptual photography, artistic composition with dynamic angles, vibrant "+
					"color palette, dramatic studio lighting, aspect ratio %s, fashion editorial style, "+
					"Phase One XF, 80mm f/2.8, cinematic mood, advertising campaign quality, bold visual statement", aspectRatio),
			},
		},
	}
}
