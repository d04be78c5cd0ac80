package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blondedman/face-recognition/internal/annotate"
	"github.com/blondedman/face-recognition/internal/detector"
	"github.com/blondedman/face-recognition/internal/encodings"
	"github.com/blondedman/face-recognition/internal/match"
	"github.com/blondedman/face-recognition/internal/session"
	"github.com/blondedman/face-recognition/internal/types"
	"github.com/blondedman/face-recognition/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// defaultModelsDir is used when neither --models nor FACEREC_MODELS is set.
const defaultModelsDir = "models"

// RecognizeOptions holds the flags of the recognize command.
type RecognizeOptions struct {
	Encodings       string
	Output          string
	Display         int
	DetectionMethod string
	Source          string
	ModelsDir       string
	Tolerance       float64
	Width           int
	Warmup          string
	Backend         string
	WorkerCmd       string
}

var recognizeOpts RecognizeOptions

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Recognize known faces on a live video stream",
	Long: `Reads frames from a camera or video, detects faces, labels each one with the
best matching known identity (or "unknown") and optionally shows and records
the annotated stream. Press "q" in the preview window to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecognize(cmd.Context(), recognizeOpts)
	},
}

func init() {
	recognizeCmd.Flags().StringVarP(&recognizeOpts.Encodings, "encodings", "e", "", "Path to serialized db of facial encodings (.json, .yaml) or a postgres:// URL")
	recognizeCmd.Flags().StringVarP(&recognizeOpts.Output, "output", "o", "", "Path to output video")
	recognizeCmd.Flags().IntVarP(&recognizeOpts.Display, "display", "y", 1, "Whether or not to display output frame to screen (nonzero shows the window)")
	recognizeCmd.Flags().StringVarP(&recognizeOpts.DetectionMethod, "detection-method", "d", detector.MethodCNN, "Detection model to use: either `hog` or `cnn`")
	recognizeCmd.Flags().StringVarP(&recognizeOpts.Source, "source", "s", "0", "Camera index, video file or stream URL")
	recognizeCmd.Flags().StringVarP(&recognizeOpts.ModelsDir, "models", "m", "", "Directory with dlib models (default: $FACEREC_MODELS or ./models)")
	recognizeCmd.Flags().Float64VarP(&recognizeOpts.Tolerance, "tolerance", "t", match.DefaultTolerance, "Face matching tolerance (lower is stricter)")
	recognizeCmd.Flags().IntVar(&recognizeOpts.Width, "width", annotate.DefaultWidth, "Width frames are resized to before detection")
	recognizeCmd.Flags().StringVar(&recognizeOpts.Warmup, "warmup", "2s", "Time to let the camera warm up before reading frames")
	recognizeCmd.Flags().StringVar(&recognizeOpts.Backend, "backend", detector.BackendDlib, "Detector backend: dlib or worker")
	recognizeCmd.Flags().StringVar(&recognizeOpts.WorkerCmd, "worker-cmd", detector.DefaultWorkerCmd, "Command line of the external worker (backend=worker)")

	recognizeCmd.MarkFlagRequired("encodings")
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(ctx context.Context, opts RecognizeOptions) error {
	if err := validateRecognizeFlags(&opts); err != nil {
		return err
	}
	warmup, _ := time.ParseDuration(opts.Warmup)

	fmt.Fprintln(os.Stderr, "📂 Loading encodings...")
	db, err := encodings.Open(ctx, opts.Encodings)
	if err != nil {
		utils.ShowError("Failed to load encodings", err, nil)
		return err
	}
	order, counts := db.Identities()
	fmt.Fprintf(os.Stderr, "👤 %d encodings for %d identities\n", db.Len(), len(order))

	fmt.Fprintf(os.Stderr, "🚀 Starting %s detector (%s)...\n", opts.Backend, opts.DetectionMethod)
	det, err := detector.Open(ctx, detector.Config{
		Backend:   opts.Backend,
		Method:    opts.DetectionMethod,
		ModelsDir: opts.ModelsDir,
		WorkerCmd: strings.Fields(opts.WorkerCmd),
	})
	if err != nil {
		utils.ShowError("Failed to start detector", err, nil)
		return err
	}
	defer det.Close()

	fmt.Fprintln(os.Stderr, "🎥 Starting video stream...")
	vc, err := session.OpenSource(opts.Source, warmup)
	if err != nil {
		utils.ShowError("Failed to open video source", err, nil)
		return err
	}
	totalFrames := session.FrameCount(vc)

	var disp session.Display
	if showWindow(opts.Display) {
		disp = session.NewWindow(session.WindowName)
	}

	cfg := session.Config{
		Output:    opts.Output,
		Width:     opts.Width,
		Tolerance: opts.Tolerance,
	}
	sess, err := session.New(cfg, db, det, vc, disp, session.FileWriter)
	if err != nil {
		vc.Close()
		if disp != nil {
			disp.Close()
		}
		utils.ShowError("Failed to start session", err, nil)
		return err
	}
	defer sess.Close()

	var bar *progressbar.ProgressBar
	if disp == nil {
		bar = progressbar.NewOptions(totalFrames,
			progressbar.OptionSetDescription("🔍 Recognizing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
		)
	}

	sightings := newSightings()
	sess.OnFrame = func(frame int, faces []types.LabeledFace) {
		sightings.add(faces)
		if bar != nil {
			bar.Add(1)
		}
	}

	start := time.Now()
	if err := sess.Run(ctx); err != nil {
		utils.ShowError("Recognition failed", err, workerCommand(det))
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	printSummary(sess, time.Since(start), sightings, order, counts)
	return nil
}

// showWindow follows the --display convention: any nonzero value shows the window.
func showWindow(display int) bool {
	return display != 0
}

// workerCommand returns the worker process for crash log dumps, if any.
func workerCommand(det detector.Detector) *utils.SafeCommand {
	if w, ok := det.(*detector.Worker); ok {
		return w.Command()
	}
	return nil
}

// sightings counts, per name, the frames in which that name was shown.
type sightings struct {
	order  []string
	frames map[string]int
}

func newSightings() *sightings {
	return &sightings{frames: make(map[string]int)}
}

func (s *sightings) add(faces []types.LabeledFace) {
	seen := make(map[string]bool, len(faces))
	for _, f := range faces {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		if _, ok := s.frames[f.Name]; !ok {
			s.order = append(s.order, f.Name)
		}
		s.frames[f.Name]++
	}
}

func printSummary(sess *session.Session, elapsed time.Duration, s *sightings, known []string, samples map[string]int) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SESSION SUMMARY (%s)\n", sess.Reason())
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	for _, name := range s.order {
		note := ""
		if n, ok := samples[name]; ok {
			note = fmt.Sprintf("(%d known encodings)", n)
		}
		fmt.Fprintf(os.Stderr, "👤 %-20s seen in %d frames %s\n", name, s.frames[name], note)
	}
	for _, name := range known {
		if _, ok := s.frames[name]; !ok {
			fmt.Fprintf(os.Stderr, "   %-20s not seen\n", name)
		}
	}

	fps := 0.0
	if elapsed > 0 {
		fps = float64(sess.Frames()) / elapsed.Seconds()
	}
	fmt.Fprintf(os.Stderr, "\n🎞️  Frames processed: %d in %s (%.1f fps)\n", sess.Frames(), fmtTime(elapsed.Seconds()), fps)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// validateRecognizeFlags ensures all CLI arguments are valid before opening devices and models.
func validateRecognizeFlags(opts *RecognizeOptions) error {
	if opts.Encodings == "" {
		err := fmt.Errorf("--encodings is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if !encodings.IsDatabaseURL(opts.Encodings) {
		info, err := os.Stat(opts.Encodings)
		if err != nil {
			if os.IsNotExist(err) {
				utils.ShowError("Encodings file does not exist", err, nil)
				return err
			}
			utils.ShowError("Unable to access encodings file", err, nil)
			return err
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory", opts.Encodings)
			utils.ShowError("Encodings path is a directory, expected a file", err, nil)
			return err
		}
	}

	if err := detector.ValidateMethod(opts.DetectionMethod); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := detector.ValidateBackend(opts.Backend); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.Backend == detector.BackendWorker && strings.TrimSpace(opts.WorkerCmd) == "" {
		err := fmt.Errorf("backend %q needs --worker-cmd", detector.BackendWorker)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.Tolerance <= 0 || opts.Tolerance > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", opts.Tolerance)
		utils.ShowError("Invalid tolerance", err, nil)
		return err
	}
	if opts.Width < 1 {
		err := fmt.Errorf("must be >= 1, got %d", opts.Width)
		utils.ShowError("Invalid working width", err, nil)
		return err
	}
	if _, err := time.ParseDuration(opts.Warmup); err != nil {
		utils.ShowError("Invalid warmup format (use '2s', '500ms')", err, nil)
		return err
	}

	if opts.Output != "" && !utils.IsCamera(opts.Source) {
		inAbs, _ := filepath.Abs(opts.Source)
		outAbs, _ := filepath.Abs(opts.Output)
		if inAbs == outAbs {
			err := fmt.Errorf("input and output paths must be different to prevent file corruption")
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
	}

	opts.ModelsDir = resolveModelsDir(opts.ModelsDir)
	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
