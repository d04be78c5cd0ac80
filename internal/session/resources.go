package session

import (
	"fmt"
	"time"

	"github.com/blondedman/face-recognition/internal/utils"
	"gocv.io/x/gocv"
)

const (
	// WindowName is the title of the preview window.
	WindowName = "Frame"
	// Codec and FPS are fixed for the annotated output video.
	Codec = "MJPG"
	FPS   = 20.0
	// keyWait is how long the key poll blocks, in milliseconds.
	keyWait = 1
)

// Source yields frames until it is exhausted.
type Source interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Display shows frames and reports key presses.
type Display interface {
	Show(img gocv.Mat) error
	Key() int
	Close() error
}

// Writer persists annotated frames.
type Writer interface {
	Write(img gocv.Mat) error
	Close() error
}

// WriterFactory creates a Writer for frames of the given size.
type WriterFactory func(path string, width, height int) (Writer, error)

// OpenSource opens a camera index, video file or stream URL. Cameras get
// warmup time to settle exposure before the first read.
func OpenSource(src string, warmup time.Duration) (*gocv.VideoCapture, error) {
	vc, err := gocv.OpenVideoCapture(utils.ParseSource(src))
	if err != nil {
		return nil, fmt.Errorf("error opening video source %s: %w", src, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video source %s could not be opened", src)
	}
	if utils.IsCamera(src) && warmup > 0 {
		time.Sleep(warmup)
	}
	return vc, nil
}

// FrameCount reports the number of frames of a file source, or -1 when unknown (cameras, streams).
func FrameCount(vc *gocv.VideoCapture) int {
	n := int(vc.Get(gocv.VideoCaptureFrameCount))
	if n <= 0 {
		return -1
	}
	return n
}

// window adapts gocv.Window to Display.
type window struct {
	win *gocv.Window
}

// NewWindow opens the preview window.
func NewWindow(name string) Display {
	return &window{win: gocv.NewWindow(name)}
}

func (w *window) Show(img gocv.Mat) error {
	return w.win.IMShow(img)
}

func (w *window) Key() int {
	return w.win.WaitKey(keyWait)
}

func (w *window) Close() error {
	return w.win.Close()
}

// FileWriter opens an MJPG video file at 20 fps sized to the original frame.
// OpenCV does not raise when the file or codec cannot be opened, so the
// writer is checked with IsOpened before it is handed out.
func FileWriter(path string, width, height int) (Writer, error) {
	vw, err := gocv.VideoWriterFile(path, Codec, FPS, width, height, true)
	if err != nil {
		if vw != nil {
			vw.Close()
		}
		return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("failed to open video writer %s: path not writable or %s codec unavailable", path, Codec)
	}
	return vw, nil
}
