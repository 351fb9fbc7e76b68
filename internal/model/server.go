package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Brownie44l1/sentinel-api/internal/scores"
	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

var (
	runtimeInitialized bool
	runtimeMu          sync.Mutex
)

// ServerConfig describes a local ONNX model file and how to run it.
type ServerConfig struct {
	ModelPath string
	// InputName and OutputName override the names discovered from the model.
	InputName  string
	OutputName string
	Threads    int
}

// Server runs an ONNX sound-event model that maps a mono 16 kHz waveform to
// a frames × classes score matrix.
type Server struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputRank  int
	numClasses int
}

// InitRuntime initializes the ONNX Runtime environment once per process.
// An empty libraryPath searches the usual install locations.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}

	if libraryPath == "" {
		libraryPath = findONNXRuntimeLibrary()
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	runtimeInitialized = true
	return nil
}

// DestroyRuntime tears down the ONNX Runtime environment.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX environment: %w", err)
	}
	runtimeInitialized = false
	return nil
}

func findONNXRuntimeLibrary() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			paths = append(paths, filepath.Join(dir, "libonnxruntime.so"))
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// NewServer opens a session on cfg.ModelPath. The runtime must be
// initialized with InitRuntime first.
func NewServer(cfg ServerConfig) (*Server, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs/outputs: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", cfg.ModelPath)
	}

	in, err := pickInfo(inputs, cfg.InputName)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	out, err := pickInfo(outputs, cfg.OutputName)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	numClasses := -1
	if n := len(out.Dimensions); n > 0 && out.Dimensions[n-1] > 0 {
		numClasses = int(out.Dimensions[n-1])
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization level: %w", err)
	}
	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
		inputRank:  len(in.Dimensions),
		numClasses: numClasses,
	}, nil
}

func pickInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no tensor named %q", name)
}

// NumClasses is the class dimension the model advertises, or -1 when it is
// only known at run time.
func (s *Server) NumClasses() int {
	return s.numClasses
}

// Score runs the model on a waveform. Safe for concurrent use; every call
// owns its tensors.
func (s *Server) Score(waveform []float32) (*mat.Dense, error) {
	if len(waveform) == 0 {
		return nil, fmt.Errorf("empty waveform")
	}

	shape := ort.NewShape(int64(len(waveform)))
	if s.inputRank == 2 {
		shape = ort.NewShape(1, int64(len(waveform)))
	}

	inputTensor, err := ort.NewTensor(shape, waveform)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	scoresTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %s is not a float32 tensor", s.outputName)
	}

	dims := scoresTensor.GetShape()
	if len(dims) == 0 {
		return nil, fmt.Errorf("output %s has no dimensions", s.outputName)
	}
	classes := int(dims[len(dims)-1])
	frames := 1
	for _, d := range dims[:len(dims)-1] {
		frames *= int(d)
	}

	// NewMatrix copies, so the tensor can be destroyed on return.
	return scores.NewMatrix(frames, classes, scoresTensor.GetData())
}

func (s *Server) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}
