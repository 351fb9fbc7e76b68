package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Brownie44l1/sentinel-api/internal/trace"
	"go.opentelemetry.io/otel/attribute"
)

// LoaderConfig locates the model and its class map. Both may be local paths
// or http(s) URLs.
type LoaderConfig struct {
	Model       string
	ClassMap    string
	CacheDir    string
	LibraryPath string
	InputName   string
	OutputName  string
	Threads     int
}

// ONNXLoader returns a LoadFunc that fetches the model, opens an ONNX
// Runtime session on it and reads the class vocabulary it advertises.
func ONNXLoader(cfg LoaderConfig) LoadFunc {
	return func(ctx context.Context) (Scorer, []string, error) {
		ctx, span := trace.StartSpan(ctx, "model.load", attribute.String(trace.AttrModelSource, cfg.Model))
		defer span.End()

		scorer, classes, err := loadONNX(ctx, cfg)
		trace.RecordError(span, err)
		return scorer, classes, err
	}
}

func loadONNX(ctx context.Context, cfg LoaderConfig) (Scorer, []string, error) {
	modelPath, err := Fetch(ctx, cfg.Model, cfg.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("loading model", "source", cfg.Model, "path", modelPath)

	if err := InitRuntime(cfg.LibraryPath); err != nil {
		return nil, nil, err
	}

	server, err := NewServer(ServerConfig{
		ModelPath:  modelPath,
		InputName:  cfg.InputName,
		OutputName: cfg.OutputName,
		Threads:    cfg.Threads,
	})
	if err != nil {
		return nil, nil, err
	}

	classMap := cfg.ClassMap
	if classMap == "" {
		classMap = DefaultClassMap(cfg.Model)
	}
	classes, err := LoadClassMap(ctx, classMap, cfg.CacheDir)
	if err != nil {
		server.Close()
		return nil, nil, err
	}

	if n := server.NumClasses(); n > 0 && n != len(classes) {
		server.Close()
		return nil, nil, fmt.Errorf("model outputs %d classes but class map has %d", n, len(classes))
	}

	return server, classes, nil
}
