// Package detector finds faces in a frame and computes one encoding per face.
// Detection and embedding extraction are delegated to dlib (through go-face)
// or to an external worker process.
package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/blondedman/face-recognition/internal/types"
	"gocv.io/x/gocv"
)

const (
	MethodHOG = "hog"
	MethodCNN = "cnn"

	BackendDlib   = "dlib"
	BackendWorker = "worker"

	// DefaultWorkerCmd runs the bundled face_recognition worker from the repo root.
	DefaultWorkerCmd = "python3 -u python/worker.py"
)

var (
	// ErrUnknownMethod is returned for a detection method other than hog or cnn.
	ErrUnknownMethod = errors.New("unknown detection method")
	// ErrUnknownBackend is returned for a backend other than dlib or worker.
	ErrUnknownBackend = errors.New("unknown detector backend")
)

// Detector locates faces on an image and returns each box with its encoding.
// An image without faces yields an empty slice and no error.
type Detector interface {
	Detect(img gocv.Mat) ([]types.DetectedFace, error)
	Close() error
}

// Config selects and configures a Detector.
type Config struct {
	Backend   string
	Method    string
	ModelsDir string
	WorkerCmd []string
}

// ValidateMethod accepts only the methods dlib understands.
func ValidateMethod(method string) error {
	switch method {
	case MethodHOG, MethodCNN:
		return nil
	}
	return fmt.Errorf("%w %q: must be %q or %q", ErrUnknownMethod, method, MethodHOG, MethodCNN)
}

// ValidateBackend accepts dlib and worker.
func ValidateBackend(backend string) error {
	switch backend {
	case BackendDlib, BackendWorker:
		return nil
	}
	return fmt.Errorf("%w %q: must be %q or %q", ErrUnknownBackend, backend, BackendDlib, BackendWorker)
}

// Open builds the detector described by cfg.
func Open(ctx context.Context, cfg Config) (Detector, error) {
	if err := ValidateMethod(cfg.Method); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendDlib:
		d, err := NewDlib(cfg.ModelsDir, cfg.Method)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendWorker:
		w, err := NewWorker(ctx, cfg.WorkerCmd, cfg.Method)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, ValidateBackend(cfg.Backend)
}

// encodeJPEG serializes a frame for detectors that take encoded images.
func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
