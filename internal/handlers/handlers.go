package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/sentinel-api/internal/audio"
	"github.com/Brownie44l1/sentinel-api/internal/emergency"
	"github.com/Brownie44l1/sentinel-api/internal/model"
	"github.com/Brownie44l1/sentinel-api/internal/scores"
	"github.com/Brownie44l1/sentinel-api/internal/trace"
	"go.opentelemetry.io/otel/attribute"
)

// WaveformLoader decodes an uploaded file into a mono 16 kHz waveform.
type WaveformLoader interface {
	Load(ctx context.Context, r io.Reader) ([]float32, error)
}

// ModelProvider hands out the lazily loaded model.
type ModelProvider interface {
	EnsureLoaded(ctx context.Context) (model.Scorer, []string, error)
	Loaded() bool
	LastError() *string
}

type Handler struct {
	loader     WaveformLoader
	models     ModelProvider
	classifier *emergency.Classifier
	maxUpload  int64
}

func NewHandler(loader WaveformLoader, models ModelProvider, classifier *emergency.Classifier, maxUpload int64) *Handler {
	return &Handler{
		loader:     loader,
		models:     models,
		classifier: classifier,
		maxUpload:  maxUpload,
	}
}

// endpoint describes one analyze route: which form field carries the audio,
// the messages for a missing or undecodable upload, and how frames are
// aggregated.
type endpoint struct {
	name    string
	field   string
	missing string
	invalid string
	mode    scores.Mode
}

var (
	analyzeEndpoint = endpoint{
		name:    "analyze",
		field:   "audio",
		missing: "No audio file",
		invalid: "Invalid audio",
		mode:    scores.Mean,
	}
	streamEndpoint = endpoint{
		name:    "stream-analyze",
		field:   "chunk",
		missing: "No audio chunk",
		invalid: "Invalid chunk",
		mode:    scores.Max,
	}
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status: "ok",
		Model:  model.Name,
		Loaded: h.models.Loaded(),
		Error:  h.models.LastError(),
	})
}

// Analyze classifies a whole clip using mean aggregation.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, analyzeEndpoint)
}

// StreamAnalyze classifies a short chunk using max aggregation.
func (h *Handler) StreamAnalyze(w http.ResponseWriter, r *http.Request) {
	h.analyze(w, r, streamEndpoint)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request, ep endpoint) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start := time.Now()
	ctx, span := trace.StartSpan(r.Context(), "http."+ep.name,
		attribute.String(trace.AttrRequestID, RequestID(r.Context())),
		attribute.String(trace.AttrEndpoint, ep.name),
	)
	defer span.End()
	log := slog.With("request_id", RequestID(ctx), "endpoint", ep.name)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Info("upload rejected", "error", err)
			writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}
		log.Info("no multipart form", "error", err)
		writeError(w, http.StatusBadRequest, ep.missing)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(ep.field)
	if err != nil {
		writeError(w, http.StatusBadRequest, ep.missing)
		return
	}
	defer file.Close()

	log.Info("received upload", "filename", header.Filename, "size", header.Size)
	span.SetAttributes(attribute.Int64(trace.AttrAudioBytes, header.Size))

	verdict, err := h.Run(ctx, file, ep.mode)
	if err != nil {
		trace.RecordError(span, err)
		switch {
		case errors.Is(err, audio.ErrInvalidAudio):
			log.Info("invalid audio", "error", err)
			writeError(w, http.StatusBadRequest, ep.invalid)
		case errors.Is(err, model.ErrModelUnavailable):
			msg := err.Error()
			if last := h.models.LastError(); last != nil {
				msg = *last
			}
			log.Error("model unavailable", "error", err)
			writeError(w, http.StatusInternalServerError, msg)
		default:
			log.Error("analysis failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	span.SetAttributes(
		attribute.Bool(trace.AttrEmergency, verdict.EmergencyDetected),
		attribute.String(trace.AttrEmergencyType, verdict.Type),
	)
	log.Info("analysis complete",
		"emergency", verdict.EmergencyDetected,
		"type", verdict.Type,
		"confidence", verdict.Confidence,
		"duration", time.Since(start),
	)
	writeJSON(w, http.StatusOK, verdict)
}

// Run is the detection pipeline: decode, score, aggregate, classify.
func (h *Handler) Run(ctx context.Context, r io.Reader, mode scores.Mode) (model.Verdict, error) {
	loadCtx, span := trace.StartSpan(ctx, "audio.load")
	waveform, err := h.loader.Load(loadCtx, r)
	span.SetAttributes(attribute.Int(trace.AttrAudioSamples, len(waveform)))
	trace.RecordError(span, err)
	span.End()
	if err != nil {
		return model.Verdict{}, err
	}

	scorer, classes, err := h.models.EnsureLoaded(ctx)
	if err != nil {
		return model.Verdict{}, err
	}

	_, span = trace.StartSpan(ctx, "model.infer")
	matrix, err := scorer.Score(waveform)
	trace.RecordError(span, err)
	if err == nil {
		frames, cols := matrix.Dims()
		span.SetAttributes(attribute.Int(trace.AttrFrames, frames), attribute.Int(trace.AttrClasses, cols))
	}
	span.End()
	if err != nil {
		return model.Verdict{}, err
	}

	_, span = trace.StartSpan(ctx, "scores.aggregate", attribute.String(trace.AttrAggregation, mode.String()))
	aggregated := scores.Aggregate(matrix, mode)
	span.End()

	_, span = trace.StartSpan(ctx, "emergency.classify")
	defer span.End()
	verdict, err := h.classifier.Classify(aggregated, classes)
	if err != nil {
		trace.RecordError(span, err)
		return model.Verdict{}, err
	}
	span.SetAttributes(attribute.Int(trace.AttrDetectionsCount, len(verdict.Detections)))
	return verdict, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}
