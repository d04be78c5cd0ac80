package detector

import (
	"context"

	"github.com/blondedman/face-recognition/internal/types"
	"github.com/blondedman/face-recognition/internal/utils"
	"github.com/blondedman/face-recognition/internal/worker"
	"gocv.io/x/gocv"
)

// Worker delegates detection to an external process speaking the worker protocol.
type Worker struct {
	w *worker.Worker
}

// NewWorker starts the worker process. The detection method is passed on as
// "--detection-method <method>".
func NewWorker(ctx context.Context, argv []string, method string) (*Worker, error) {
	if err := ValidateMethod(method); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, worker.ErrEmptyCommand
	}
	args := append(append([]string(nil), argv...), "--detection-method", method)
	w, err := worker.New(ctx, 0, args)
	if err != nil {
		return nil, err
	}
	return &Worker{w: w}, nil
}

// Command exposes the process so its stderr can be dumped on failure.
func (w *Worker) Command() *utils.SafeCommand {
	return w.w.Cmd
}

// Detect implements Detector.
func (w *Worker) Detect(img gocv.Mat) ([]types.DetectedFace, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return w.w.ProcessFrame(data)
}

// Close stops the worker process.
func (w *Worker) Close() error {
	return w.w.Close()
}
