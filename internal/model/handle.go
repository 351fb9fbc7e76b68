package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ErrModelUnavailable is returned while no load attempt has succeeded.
var ErrModelUnavailable = errors.New("model unavailable")

// Scorer maps a mono 16 kHz waveform to a frames × classes score matrix.
type Scorer interface {
	Score(waveform []float32) (*mat.Dense, error)
	Close()
}

// LoadFunc produces a scorer and the class vocabulary aligned with its
// output columns.
type LoadFunc func(ctx context.Context) (Scorer, []string, error)

// Handle owns the process-wide model. The model is loaded at most once
// successfully; failed loads are retried by the next caller.
type Handle struct {
	load LoadFunc

	loaded   atomic.Bool
	attempts atomic.Uint64
	lastErr  atomic.Pointer[string]

	mu      sync.Mutex
	scorer  Scorer
	classes []string
	err     error
}

func NewHandle(load LoadFunc) *Handle {
	return &Handle{load: load}
}

// EnsureLoaded returns the loaded scorer and vocabulary, loading them first
// if needed. Concurrent callers wait for the in-flight attempt and share its
// outcome.
func (h *Handle) EnsureLoaded(ctx context.Context) (Scorer, []string, error) {
	if h.loaded.Load() {
		return h.scorer, h.classes, nil
	}

	seen := h.attempts.Load()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded.Load() {
		return h.scorer, h.classes, nil
	}
	// An attempt finished while we were waiting for the lock.
	if h.attempts.Load() != seen {
		return nil, nil, h.err
	}

	start := time.Now()
	slog.Debug("model load started")

	// Waiters share this load, so one caller going away must not abort it.
	scorer, classes, err := h.load(context.WithoutCancel(ctx))
	if err == nil && scorer == nil {
		err = fmt.Errorf("loader returned no model")
	}
	if err == nil && len(classes) == 0 {
		scorer.Close()
		err = fmt.Errorf("model advertises no classes")
	}
	if err != nil {
		msg := err.Error()
		h.lastErr.Store(&msg)
		h.err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		h.attempts.Add(1)
		slog.Error("failed to load model", "error", err, "duration", time.Since(start))
		return nil, nil, h.err
	}

	h.scorer = scorer
	h.classes = classes
	h.err = nil
	h.lastErr.Store(nil)
	h.loaded.Store(true)
	h.attempts.Add(1)

	slog.Info("model loaded", "classes", len(classes), "duration", time.Since(start))
	return scorer, classes, nil
}

func (h *Handle) Loaded() bool {
	return h.loaded.Load()
}

// LastError is the message of the most recent failed load, or nil.
func (h *Handle) LastError() *string {
	return h.lastErr.Load()
}

// Close releases the scorer. The handle must not be used afterwards.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scorer != nil {
		h.scorer.Close()
	}
}
