package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blondedman/face-recognition/internal/detector"
	"github.com/blondedman/face-recognition/internal/types"
)

func writeEncodings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "encodings.json")
	if err := os.WriteFile(path, []byte(`{"names":[],"encodings":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateRecognizeFlags(t *testing.T) {
	encPath := writeEncodings(t)
	base := RecognizeOptions{
		Encodings:       encPath,
		DetectionMethod: "cnn",
		Source:          "0",
		Tolerance:       0.6,
		Width:           750,
		Warmup:          "2s",
		Backend:         "dlib",
		WorkerCmd:       detector.DefaultWorkerCmd,
	}

	tests := []struct {
		name    string
		modify  func(*RecognizeOptions)
		wantErr bool
	}{
		{"Valid defaults", func(o *RecognizeOptions) {}, false},
		{"Valid hog", func(o *RecognizeOptions) { o.DetectionMethod = "hog" }, false},
		{"Database URL skips file check", func(o *RecognizeOptions) { o.Encodings = "postgres://localhost/facerec" }, false},
		{"Tolerance of exactly 1", func(o *RecognizeOptions) { o.Tolerance = 1.0 }, false},
		{"Missing encodings", func(o *RecognizeOptions) { o.Encodings = "" }, true},
		{"Encodings not found", func(o *RecognizeOptions) { o.Encodings = filepath.Join(t.TempDir(), "nope.json") }, true},
		{"Encodings is a directory", func(o *RecognizeOptions) { o.Encodings = t.TempDir() }, true},
		{"Unknown method", func(o *RecognizeOptions) { o.DetectionMethod = "haar" }, true},
		{"Unknown backend", func(o *RecognizeOptions) { o.Backend = "gpu" }, true},
		{"Worker without command", func(o *RecognizeOptions) { o.Backend = "worker"; o.WorkerCmd = "  " }, true},
		{"Zero tolerance", func(o *RecognizeOptions) { o.Tolerance = 0 }, true},
		{"Tolerance above 1", func(o *RecognizeOptions) { o.Tolerance = 1.5 }, true},
		{"Zero width", func(o *RecognizeOptions) { o.Width = 0 }, true},
		{"Bad warmup", func(o *RecognizeOptions) { o.Warmup = "soon" }, true},
		{"Output overwrites input", func(o *RecognizeOptions) { o.Source = "clip.avi"; o.Output = "./clip.avi" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.modify(&opts)
			err := validateRecognizeFlags(&opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRecognizeFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveModelsDir(t *testing.T) {
	t.Setenv("FACEREC_MODELS", "")
	if got := resolveModelsDir(""); got != "models" {
		t.Errorf("Expected models, got %s", got)
	}

	t.Setenv("FACEREC_MODELS", "/opt/dlib")
	if got := resolveModelsDir(""); got != "/opt/dlib" {
		t.Errorf("Expected env value, got %s", got)
	}
	if got := resolveModelsDir("./mine"); got != "./mine" {
		t.Errorf("Expected flag value to win, got %s", got)
	}
}

func TestDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	if got := databaseURLFromEnv(); got != "postgres://localhost:5432/facerec" {
		t.Errorf("Unexpected default URL: %s", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "face")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "known")
	t.Setenv("POSTGRES_PORT", "")
	if got := databaseURLFromEnv(); got != "postgres://face:secret@db:5432/known" {
		t.Errorf("Unexpected URL: %s", got)
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{59.9, "00:00:59"},
		{61, "00:01:01"},
		{3725, "01:02:05"},
	}
	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
	if got := fmtTime((90 * time.Minute).Seconds()); got != "01:30:00" {
		t.Errorf("Expected 01:30:00, got %s", got)
	}
}

func TestSightingsCountsFramesNotFaces(t *testing.T) {
	s := newSightings()
	s.add([]types.LabeledFace{{Name: "bob"}, {Name: "alice"}, {Name: "bob"}})
	s.add([]types.LabeledFace{{Name: "unknown"}})
	s.add(nil)
	s.add([]types.LabeledFace{{Name: "bob"}})

	if s.frames["bob"] != 2 || s.frames["alice"] != 1 || s.frames["unknown"] != 1 {
		t.Errorf("Unexpected counts: %v", s.frames)
	}
	want := []string{"bob", "alice", "unknown"}
	if len(s.order) != len(want) {
		t.Fatalf("Expected order %v, got %v", want, s.order)
	}
	for i := range want {
		if s.order[i] != want[i] {
			t.Errorf("Expected order %v, got %v", want, s.order)
		}
	}
}

func TestDefaultWorkerScriptShips(t *testing.T) {
	argv := strings.Fields(detector.DefaultWorkerCmd)
	script := argv[len(argv)-1]
	// Tests run from cmd/, the default command is relative to the repo root.
	if _, err := os.Stat(filepath.Join("..", script)); err != nil {
		t.Fatalf("Default worker command points at a missing script: %v", err)
	}
}

func TestShowWindow(t *testing.T) {
	tests := []struct {
		display int
		want    bool
	}{
		{1, true},
		{-1, true},
		{5, true},
		{0, false},
	}
	for _, tt := range tests {
		if got := showWindow(tt.display); got != tt.want {
			t.Errorf("showWindow(%d) = %v, want %v", tt.display, got, tt.want)
		}
	}
}
