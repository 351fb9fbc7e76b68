package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()

	var cfg Config
	parser, err := kong.New(&cfg, kong.Name("sentinel"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return &cfg
}

// clearEnv unsets every variable the config reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "YAMNET_MODEL_HANDLE", "YAMNET_CLASS_MAP", "YAMNET_CACHE_DIR",
		"ONNXRUNTIME_LIB", "YAMNET_INPUT_NAME", "YAMNET_OUTPUT_NAME", "YAMNET_THREADS",
		"YAMNET_PRELOAD", "FFMPEG_PATH", "SCRATCH_DIR", "MAX_UPLOAD_BYTES",
		"LOG_LEVEL", "TRACE_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg := parse(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, ":5050", cfg.Addr())
	assert.Equal(t, "models/yamnet.onnx", cfg.Model)
	assert.Equal(t, filepath.Join("models", "yamnet_class_map.csv"), cfg.ClassMap)
	assert.NotEmpty(t, cfg.CacheDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg)
	assert.Equal(t, int64(10<<20), cfg.MaxUpload)
	assert.True(t, cfg.Preload)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, 1.0, cfg.TraceSample)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("YAMNET_MODEL_HANDLE", "https://example.com/yamnet/yamnet.onnx")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACE_SAMPLE_RATE", "0.25")

	cfg := parse(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "https://example.com/yamnet/yamnet.onnx", cfg.Model)
	assert.Equal(t, "https://example.com/yamnet/yamnet_class_map.csv", cfg.ClassMap)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 0.25, cfg.TraceSample)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")

	cfg := parse(t, "--port", "9000", "--no-preload", "--class-map", "labels.csv")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.Preload)
	assert.Equal(t, "labels.csv", cfg.ClassMap)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port", mutate: func(c *Config) { c.Port = 70000 }},
		{name: "model", mutate: func(c *Config) { c.Model = " " }},
		{name: "upload", mutate: func(c *Config) { c.MaxUpload = 0 }},
		{name: "threads", mutate: func(c *Config) { c.Threads = -1 }},
		{name: "sample rate", mutate: func(c *Config) { c.TraceSample = 1.5 }},
		{name: "zero sample rate", mutate: func(c *Config) { c.TraceSample = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Port: 5050, Model: "m.onnx", MaxUpload: 1, TraceSample: 1}
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderConfig(t *testing.T) {
	cfg := Config{Port: 1, Model: "m/yamnet.onnx", MaxUpload: 1, TraceSample: 1, ONNXRuntime: "/opt/lib.so", Threads: 2}
	require.NoError(t, cfg.Validate())

	lc := cfg.LoaderConfig()
	assert.Equal(t, "m/yamnet.onnx", lc.Model)
	assert.Equal(t, filepath.Join("m", "yamnet_class_map.csv"), lc.ClassMap)
	assert.Equal(t, "/opt/lib.so", lc.LibraryPath)
	assert.Equal(t, 2, lc.Threads)
}
