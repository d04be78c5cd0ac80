package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blondedman/face-recognition/internal/encodings"
	"github.com/blondedman/face-recognition/internal/types"
	"gocv.io/x/gocv"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListImages(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "bob", "2.png"))
	touch(t, filepath.Join(root, "alice", "1.jpg"))
	touch(t, filepath.Join(root, "alice", "2.JPEG"))
	touch(t, filepath.Join(root, "alice", "notes.txt"))
	touch(t, filepath.Join(root, "loose.jpg"))

	images, err := listImages(root)
	if err != nil {
		t.Fatal(err)
	}

	want := []datasetImage{
		{Name: "alice", Path: filepath.Join(root, "alice", "1.jpg")},
		{Name: "alice", Path: filepath.Join(root, "alice", "2.JPEG")},
		{Name: "bob", Path: filepath.Join(root, "bob", "2.png")},
	}
	if len(images) != len(want) {
		t.Fatalf("Expected %d images, got %d: %v", len(want), len(images), images)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Errorf("image %d: expected %+v, got %+v", i, want[i], images[i])
		}
	}
}

func TestValidateEncodeFlags(t *testing.T) {
	dataset := t.TempDir()
	file := filepath.Join(dataset, "x.jpg")
	touch(t, file)

	tests := []struct {
		name    string
		opts    EncodeOptions
		wantErr bool
	}{
		{"Valid json", EncodeOptions{Dataset: dataset, Encodings: "out.json", DetectionMethod: "hog", Backend: "dlib"}, false},
		{"Valid yaml", EncodeOptions{Dataset: dataset, Encodings: "out.yml", DetectionMethod: "cnn", Backend: "worker"}, false},
		{"Pickle output", EncodeOptions{Dataset: dataset, Encodings: "out.pickle", DetectionMethod: "hog", Backend: "dlib"}, true},
		{"Dataset is a file", EncodeOptions{Dataset: file, Encodings: "out.json", DetectionMethod: "hog", Backend: "dlib"}, true},
		{"Dataset missing", EncodeOptions{Dataset: filepath.Join(dataset, "nope"), Encodings: "out.json", DetectionMethod: "hog", Backend: "dlib"}, true},
		{"Bad method", EncodeOptions{Dataset: dataset, Encodings: "out.json", DetectionMethod: "mtcnn", Backend: "dlib"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := validateEncodeFlags(&opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateEncodeFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && opts.ModelsDir == "" {
				t.Error("Expected models dir to be resolved")
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Drop?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("Expected prompt, got %q", out.String())
		}
	}
}

type countingDetector struct {
	faces []types.DetectedFace
	calls int
}

func (d *countingDetector) Detect(img gocv.Mat) ([]types.DetectedFace, error) {
	d.calls++
	return d.faces, nil
}

func (d *countingDetector) Close() error { return nil }

func TestEncodeImageUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice", "broken.jpg")
	touch(t, path)

	det := &countingDetector{}
	db := &encodings.Database{}
	n, err := encodeImage(det, db, datasetImage{Name: "alice", Path: path})
	if !errors.Is(err, errUnreadableImage) {
		t.Fatalf("Expected errUnreadableImage, got n=%d err=%v", n, err)
	}
	if det.calls != 0 || db.Len() != 0 {
		t.Errorf("Expected no detection and no entries, got %d calls and %d entries", det.calls, db.Len())
	}
}

func TestEncodeImageFaceless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice", "blank.png")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	blank := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer blank.Close()
	if ok := gocv.IMWrite(path, blank); !ok {
		t.Fatal("failed to write test image")
	}

	det := &countingDetector{}
	db := &encodings.Database{}
	n, err := encodeImage(det, db, datasetImage{Name: "alice", Path: path})
	if err != nil {
		t.Fatalf("Expected faceless image to be skipped without error, got %v", err)
	}
	if n != 0 || det.calls != 1 {
		t.Errorf("Expected one detection with no faces, got n=%d calls=%d", n, det.calls)
	}
}
