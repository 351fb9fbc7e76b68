package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/sentinel-api/internal/scores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func getModelPath(t *testing.T) string {
	paths := []string{
		os.Getenv("YAMNET_TEST_MODEL"),
		"../../models/yamnet.onnx",
		"models/yamnet.onnx",
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}

	t.Skip("yamnet.onnx not found, skipping test")
	return ""
}

func TestPickInfo(t *testing.T) {
	infos := []ort.InputOutputInfo{{Name: "scores"}, {Name: "embeddings"}}

	got, err := pickInfo(infos, "")
	require.NoError(t, err)
	assert.Equal(t, "scores", got.Name)

	got, err = pickInfo(infos, "embeddings")
	require.NoError(t, err)
	assert.Equal(t, "embeddings", got.Name)

	_, err = pickInfo(infos, "spectrogram")
	assert.Error(t, err)
}

func TestONNXLoaderScoresSilence(t *testing.T) {
	modelPath := getModelPath(t)

	h := NewHandle(ONNXLoader(LoaderConfig{
		Model:       modelPath,
		CacheDir:    t.TempDir(),
		LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
	}))
	defer h.Close()

	scorer, classes, err := h.EnsureLoaded(context.Background())
	if err != nil {
		t.Skipf("model could not be loaded: %v", err)
	}

	m, err := scorer.Score(make([]float32, 16000))
	require.NoError(t, err)

	frames, cols := m.Dims()
	assert.Positive(t, frames)
	assert.Equal(t, len(classes), cols)
	assert.Len(t, scores.Aggregate(m, scores.Mean), len(classes))
}
