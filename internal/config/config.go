// Package config holds the server's command-line and environment settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/sentinel-api/internal/model"
)

// Config is parsed by kong; every flag can also be set through its env var.
type Config struct {
	Port int `help:"Port to listen on." env:"PORT" default:"5050"`

	Model       string `help:"Model location (path or http(s) URL)." env:"YAMNET_MODEL_HANDLE" default:"models/yamnet.onnx"`
	ClassMap    string `help:"Class map CSV location; defaults to yamnet_class_map.csv next to the model." env:"YAMNET_CLASS_MAP"`
	CacheDir    string `help:"Directory for downloaded model artifacts." env:"YAMNET_CACHE_DIR"`
	ONNXRuntime string `name:"onnxruntime-lib" help:"Path to the ONNX Runtime shared library." env:"ONNXRUNTIME_LIB"`
	InputName   string `help:"Model input tensor name." env:"YAMNET_INPUT_NAME"`
	OutputName  string `help:"Model score tensor name." env:"YAMNET_OUTPUT_NAME"`
	Threads     int    `help:"Intra-op threads for inference (0 = runtime default)." env:"YAMNET_THREADS" default:"0"`
	Preload     bool   `help:"Load the model at startup instead of on the first request." env:"YAMNET_PRELOAD" default:"true" negatable:""`

	FFmpeg     string `name:"ffmpeg" help:"Path to the ffmpeg binary." env:"FFMPEG_PATH" default:"ffmpeg"`
	ScratchDir string `help:"Directory for per-request scratch files." env:"SCRATCH_DIR"`
	MaxUpload  int64  `help:"Maximum upload size in bytes." env:"MAX_UPLOAD_BYTES" default:"10485760"`

	LogLevel      string  `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	TraceExporter string  `help:"Trace exporter (none, stdout, otlp)." env:"TRACE_EXPORTER" default:"none" enum:"none,stdout,otlp"`
	OTLPEndpoint  string  `name:"otlp-endpoint" help:"OTLP gRPC endpoint." env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	TraceSample   float64 `name:"trace-sample-rate" help:"Fraction of root traces to sample (0, 1]." env:"TRACE_SAMPLE_RATE" default:"1.0"`
}

// Validate checks values kong cannot and fills derived defaults.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model location must not be empty")
	}
	if c.MaxUpload <= 0 {
		return fmt.Errorf("invalid max upload size %d", c.MaxUpload)
	}
	if c.Threads < 0 {
		return fmt.Errorf("invalid thread count %d", c.Threads)
	}
	if c.TraceSample <= 0 || c.TraceSample > 1 {
		return fmt.Errorf("invalid trace sample rate %g", c.TraceSample)
	}
	if c.ClassMap == "" {
		c.ClassMap = model.DefaultClassMap(c.Model)
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "yamnet-cache")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoaderConfig maps the settings onto the model loader.
func (c *Config) LoaderConfig() model.LoaderConfig {
	return model.LoaderConfig{
		Model:       c.Model,
		ClassMap:    c.ClassMap,
		CacheDir:    c.CacheDir,
		LibraryPath: c.ONNXRuntime,
		InputName:   c.InputName,
		OutputName:  c.OutputName,
		Threads:     c.Threads,
	}
}
