package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blondedman/face-recognition/internal/detector"
	"github.com/blondedman/face-recognition/internal/encodings"
	"github.com/blondedman/face-recognition/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

// EncodeOptions holds the flags of the encode command.
type EncodeOptions struct {
	Dataset         string
	Encodings       string
	DetectionMethod string
	ModelsDir       string
	Backend         string
	WorkerCmd       string
}

var encodeOpts EncodeOptions

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build an encodings file from a folder of labeled images",
	Long: `Walks DATASET/<name>/*.jpg|jpeg|png, detects every face in each image and
stores one 128-d encoding per face under <name>. The output format follows the
file extension (.json, .yaml or .yml).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEncode(cmd.Context(), encodeOpts)
	},
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeOpts.Dataset, "dataset", "i", "", "Path to the input directory of faces + images")
	encodeCmd.Flags().StringVarP(&encodeOpts.Encodings, "encodings", "e", "", "Path to the output encodings file (.json, .yaml)")
	encodeCmd.Flags().StringVarP(&encodeOpts.DetectionMethod, "detection-method", "d", detector.MethodCNN, "Detection model to use: either `hog` or `cnn`")
	encodeCmd.Flags().StringVarP(&encodeOpts.ModelsDir, "models", "m", "", "Directory with dlib models (default: $FACEREC_MODELS or ./models)")
	encodeCmd.Flags().StringVar(&encodeOpts.Backend, "backend", detector.BackendDlib, "Detector backend: dlib or worker")
	encodeCmd.Flags().StringVar(&encodeOpts.WorkerCmd, "worker-cmd", detector.DefaultWorkerCmd, "Command line of the external worker (backend=worker)")

	encodeCmd.MarkFlagRequired("dataset")
	encodeCmd.MarkFlagRequired("encodings")
	rootCmd.AddCommand(encodeCmd)
}

// datasetImage is one labeled picture; the label is its parent directory name.
type datasetImage struct {
	Name string
	Path string
}

// errUnreadableImage marks a file OpenCV could not decode.
var errUnreadableImage = errors.New("unreadable image")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// listImages collects the images under root in lexical order.
func listImages(root string) ([]datasetImage, error) {
	var images []datasetImage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		dir := filepath.Dir(path)
		if filepath.Clean(dir) == filepath.Clean(root) {
			// Loose files have no label.
			return nil
		}
		images = append(images, datasetImage{Name: filepath.Base(dir), Path: path})
		return nil
	})
	return images, err
}

func runEncode(ctx context.Context, opts EncodeOptions) error {
	if err := validateEncodeFlags(&opts); err != nil {
		return err
	}

	images, err := listImages(opts.Dataset)
	if err != nil {
		utils.ShowError("Failed to read dataset", err, nil)
		return err
	}
	if len(images) == 0 {
		err := fmt.Errorf("no .jpg, .jpeg or .png files under %s/<name>/", opts.Dataset)
		utils.ShowError("Empty dataset", err, nil)
		return err
	}

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

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("🧬 Encoding"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	db := &encodings.Database{}
	var faceless, unreadable []string
	for _, img := range images {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := encodeImage(det, db, img)
		switch {
		case errors.Is(err, errUnreadableImage):
			unreadable = append(unreadable, img.Path)
		case err != nil:
			utils.ShowError(fmt.Sprintf("Failed to encode %s", img.Path), err, workerCommand(det))
			return err
		case n == 0:
			faceless = append(faceless, img.Path)
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	for _, path := range unreadable {
		fmt.Fprintf(os.Stderr, "⚠️  Could not decode %s, skipped\n", path)
	}
	for _, path := range faceless {
		fmt.Fprintf(os.Stderr, "⚠️  No face found in %s, skipped\n", path)
	}

	if err := encodings.SaveFile(opts.Encodings, db); err != nil {
		utils.ShowError("Failed to write encodings", err, nil)
		return err
	}

	order, _ := db.Identities()
	fmt.Printf("✅ Wrote %d encodings for %d identities to %s\n", db.Len(), len(order), opts.Encodings)
	return nil
}

// encodeImage adds one entry per face found in img and returns how many were added.
// Files OpenCV cannot decode return errUnreadableImage.
func encodeImage(det detector.Detector, db *encodings.Database, img datasetImage) (int, error) {
	mat := gocv.IMRead(img.Path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return 0, fmt.Errorf("%w: %s", errUnreadableImage, img.Path)
	}

	faces, err := det.Detect(mat)
	if err != nil {
		return 0, err
	}
	for _, f := range faces {
		db.Add(img.Name, f.Descriptor)
	}
	return len(faces), nil
}

func validateEncodeFlags(opts *EncodeOptions) error {
	info, err := os.Stat(opts.Dataset)
	if err != nil {
		utils.ShowError("Unable to access dataset", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("%s is not a directory", opts.Dataset)
		utils.ShowError("Dataset must be a directory", err, nil)
		return err
	}

	switch strings.ToLower(filepath.Ext(opts.Encodings)) {
	case ".json", ".yaml", ".yml":
	default:
		err := fmt.Errorf("%w: %q", encodings.ErrFormat, opts.Encodings)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if err := detector.ValidateMethod(opts.DetectionMethod); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := detector.ValidateBackend(opts.Backend); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	opts.ModelsDir = resolveModelsDir(opts.ModelsDir)
	return nil
}

// resolveModelsDir applies the FACEREC_MODELS and ./models fallbacks.
func resolveModelsDir(dir string) string {
	if dir == "" {
		dir = os.Getenv("FACEREC_MODELS")
	}
	if dir == "" {
		dir = defaultModelsDir
	}
	return dir
}
