// Package api exposes the generation service over HTTP. Batch submission is
// synchronous: the caller blocks until the batch completes or its deadline
// fires, and always receives the full partial-success outcome.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/salephoto/genflow-core/internal/apierror"
	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/fault"
	"github.com/salephoto/genflow-core/internal/orchestrator"
	"github.com/salephoto/genflow-core/internal/photoshoot"
	"github.com/salephoto/genflow-core/internal/provider"
)

// Handler serves the /v1 API.
type Handler struct {
	orch       *orchestrator.Orchestrator
	shoots     *photoshoot.Service
	providers  *provider.Registry
	maxBatch   int
	maxTimeout time.Duration
	logger     *slog.Logger
}

// New creates an API Handler. maxBatch caps requests per batch; maxTimeout
// caps caller-supplied batch deadlines.
func New(orch *orchestrator.Orchestrator, shoots *photoshoot.Service, providers *provider.Registry, cfg config.BatchConfig, logger *slog.Logger) *Handler {
	return &Handler{
		orch:       orch,
		shoots:     shoots,
		providers:  providers,
		maxBatch:   cfg.MaxRequests,
		maxTimeout: cfg.OverallTimeout,
		logger:     logger,
	}
}

// RegisterRoutes adds API routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/batches", h.submitBatch)
	mux.HandleFunc("POST /v1/photoshoots", h.submitPhotoshoot)
}

type batchRequest struct {
	OwnerKey  string `json:"owner_key"`
	TimeoutMs int    `json:"timeout_ms"`
	Requests  []struct {
		ID       string          `json:"id"`
		Endpoint string          `json:"endpoint"`
		Payload  json.RawMessage `json:"payload"`
	} `json:"requests"`
}

type batchResponse struct {
	OwnerKey       string           `json:"owner_key"`
	Results        []requestOutcome `json:"results"`
	SuccessCount   int              `json:"success_count"`
	OverallSuccess bool             `json:"overall_success"`
	ElapsedMs      int64            `json:"elapsed_ms"`
}

type requestOutcome struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Value     []byte `json:"value,omitempty"` // base64 in JSON
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "invalid JSON body: "+err.Error())
		return
	}
	if req.OwnerKey == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "owner_key is required")
		return
	}
	if len(req.Requests) == 0 {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "requests must not be empty")
		return
	}
	if len(req.Requests) > h.maxBatch {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed,
			fmt.Sprintf("batch size %d exceeds limit %d", len(req.Requests), h.maxBatch))
		return
	}

	requests := make([]orchestrator.Request, len(req.Requests))
	for i, rr := range req.Requests {
		if rr.Endpoint == "" {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed,
				fmt.Sprintf("requests[%d].endpoint is required", i))
			return
		}
		if !h.providers.Has(rr.Endpoint) {
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.UnknownEndpoint,
				"unknown endpoint: "+rr.Endpoint)
			return
		}
		id := rr.ID
		if id == "" {
			id = fmt.Sprintf("request-%d", i+1)
		}
		requests[i] = orchestrator.Request{ID: id, Endpoint: rr.Endpoint, Payload: rr.Payload}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 || timeout > h.maxTimeout {
		timeout = h.maxTimeout
	}

	batch, err := h.orch.Run(r.Context(), req.OwnerKey, requests, timeout)
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

type photoshootRequest struct {
	OwnerKey           string `json:"owner_key"`
	ProductDescription string `json:"product_description"`
	ReferenceImage     []byte `json:"reference_image"` // base64 in JSON
	AspectRatio        string `json:"aspect_ratio"`
	RandomStyles       bool   `json:"random_styles"`
}

func (h *Handler) submitPhotoshoot(w http.ResponseWriter, r *http.Request) {
	if h.shoots == nil {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "photoshoot generation is not configured")
		return
	}

	var req photoshootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "invalid JSON body: "+err.Error())
		return
	}
	if req.OwnerKey == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "owner_key is required")
		return
	}
	if len(req.ReferenceImage) == 0 {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, "reference_image is required")
		return
	}
	if req.ProductDescription == "" {
		req.ProductDescription = "product from image"
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}

	outcome, err := h.shoots.Generate(r.Context(), photoshoot.Params{
		OwnerKey:           req.OwnerKey,
		ProductDescription: req.ProductDescription,
		ReferenceImage:     req.ReferenceImage,
		AspectRatio:        req.AspectRatio,
		RandomStyles:       req.RandomStyles,
	})
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// writeRunError maps orchestrator-level errors to HTTP responses. The only
// expected kinds are lock timeouts ("already in progress") and invalid
// photoshoot input; anything else is a 500.
func (h *Handler) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.KindLockTimeout:
			apierror.WriteJSON(w, r, http.StatusConflict, apierror.BatchInProgress,
				"a batch is already in progress for this owner")
			return
		case fault.KindPermanent:
			apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.ValidationFailed, fe.Detail)
			return
		}
	}
	h.logger.Error("batch execution failed", "error", err)
	apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
}

func toBatchResponse(batch orchestrator.BatchResult) batchResponse {
	resp := batchResponse{
		OwnerKey:       batch.OwnerKey,
		Results:        make([]requestOutcome, len(batch.Results)),
		SuccessCount:   batch.SuccessCount,
		OverallSuccess: batch.OverallSuccess,
		ElapsedMs:      batch.Elapsed.Milliseconds(),
	}
	for i, res := range batch.Results {
		out := requestOutcome{
			RequestID: res.RequestID,
			Success:   res.Success,
			Value:     res.Value,
			Attempts:  res.Attempts,
		}
		if res.Err != nil {
			out.ErrorKind = res.Kind.String()
			out.Error = res.Err.Error()
		}
		resp.Results[i] = out
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
