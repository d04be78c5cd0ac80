package detector

import (
	"fmt"

	face "github.com/Kagami/go-face"

	"github.com/blondedman/face-recognition/internal/types"
	"gocv.io/x/gocv"
)

// Dlib runs detection and embedding in-process through go-face.
// The models directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and, for cnn, mmod_human_face_detector.dat.
type Dlib struct {
	rec    *face.Recognizer
	method string
}

// NewDlib loads the dlib models from dir.
func NewDlib(dir, method string) (*Dlib, error) {
	if err := ValidateMethod(method); err != nil {
		return nil, err
	}
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load models from %s: %w", dir, err)
	}
	return &Dlib{rec: rec, method: method}, nil
}

// Detect implements Detector.
func (d *Dlib) Detect(img gocv.Mat) ([]types.DetectedFace, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return d.DetectJPEG(data)
}

// DetectJPEG runs the configured method on an already encoded JPEG.
func (d *Dlib) DetectJPEG(data []byte) ([]types.DetectedFace, error) {
	var (
		faces []face.Face
		err   error
	)
	if d.method == MethodCNN {
		faces, err = d.rec.RecognizeCNN(data)
	} else {
		faces, err = d.rec.Recognize(data)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	out := make([]types.DetectedFace, len(faces))
	for i, f := range faces {
		out[i] = types.DetectedFace{
			Box:        types.BoxFromRect(f.Rectangle),
			Descriptor: f.Descriptor,
		}
	}
	return out, nil
}

// Close releases the dlib models.
func (d *Dlib) Close() error {
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
