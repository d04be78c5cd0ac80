// Package session runs the per-frame recognition loop. A Session owns the
// video source, the optional preview window and the lazily created video
// writer, and releases all of them in Close.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/blondedman/face-recognition/internal/annotate"
	"github.com/blondedman/face-recognition/internal/detector"
	"github.com/blondedman/face-recognition/internal/encodings"
	"github.com/blondedman/face-recognition/internal/match"
	"github.com/blondedman/face-recognition/internal/types"
	"gocv.io/x/gocv"
)

// State is the loop state.
type State int

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// StopReason tells why the loop left the Running state.
type StopReason string

const (
	StopNone      StopReason = ""
	StopQuit      StopReason = "quit key pressed"
	StopExhausted StopReason = "source exhausted"
	StopCancelled StopReason = "cancelled"
)

// quitKey stops the loop when pressed in the preview window.
const quitKey = 'q'

// Config holds the per-run knobs of the loop.
type Config struct {
	// Output is the annotated video path; empty disables writing.
	Output string
	// Width is the working width frames are shrunk to before detection.
	Width int
	// Tolerance is the maximum encoding distance still counted as a match.
	Tolerance float64
}

// Session is the frame annotator.
type Session struct {
	cfg       Config
	db        *encodings.Database
	det       detector.Detector
	src       Source
	disp      Display
	newWriter WriterFactory
	writer    Writer

	state  State
	reason StopReason
	frames int
	closed bool

	// OnFrame, if set, is called after every processed frame.
	OnFrame func(frame int, faces []types.LabeledFace)
}

// New assembles a Session. disp may be nil to run headless. newWriter may be
// nil when cfg.Output is empty.
func New(cfg Config, db *encodings.Database, det detector.Detector, src Source, disp Display, newWriter WriterFactory) (*Session, error) {
	if db == nil || det == nil || src == nil {
		return nil, errors.New("session needs a database, a detector and a source")
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}
	if cfg.Width <= 0 {
		cfg.Width = annotate.DefaultWidth
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = match.DefaultTolerance
	}
	if cfg.Output != "" && newWriter == nil {
		newWriter = FileWriter
	}
	return &Session{
		cfg:       cfg,
		db:        db,
		det:       det,
		src:       src,
		disp:      disp,
		newWriter: newWriter,
		state:     Running,
	}, nil
}

// State returns the current loop state.
func (s *Session) State() State { return s.state }

// Reason returns why the loop stopped, or StopNone while running.
func (s *Session) Reason() StopReason { return s.reason }

// Frames returns how many frames were fully processed.
func (s *Session) Frames() int { return s.frames }

// Run loops until the session stops. Any detection or output error ends the
// run and is returned as is.
func (s *Session) Run(ctx context.Context) error {
	for s.state == Running {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step processes one frame and applies the single Running -> Stopped check.
func (s *Session) Step(ctx context.Context) error {
	if s.state != Running {
		return nil
	}
	reason, err := s.processFrame(ctx)
	if err != nil {
		return err
	}
	if reason != StopNone {
		s.state = Stopped
		s.reason = reason
	}
	return nil
}

func (s *Session) processFrame(ctx context.Context) (StopReason, error) {
	if ctx.Err() != nil {
		return StopCancelled, nil
	}

	frame := gocv.NewMat()
	defer frame.Close()

	if ok := s.src.Read(&frame); !ok || frame.Empty() {
		return StopExhausted, nil
	}

	faces, err := s.Annotate(&frame)
	if err != nil {
		return StopNone, err
	}

	if err := s.write(frame); err != nil {
		return StopNone, err
	}

	s.frames++
	if s.OnFrame != nil {
		s.OnFrame(s.frames, faces)
	}

	if s.disp != nil {
		if err := s.disp.Show(frame); err != nil {
			return StopNone, fmt.Errorf("failed to show frame %d: %w", s.frames, err)
		}
		if s.disp.Key()&0xFF == quitKey {
			return StopQuit, nil
		}
	}
	return StopNone, nil
}

// Annotate detects, identifies and draws every face on frame in place.
func (s *Session) Annotate(frame *gocv.Mat) ([]types.LabeledFace, error) {
	small := gocv.NewMat()
	defer small.Close()

	scale, err := annotate.Shrink(*frame, &small, s.cfg.Width)
	if err != nil {
		return nil, err
	}

	detected, err := s.det.Detect(small)
	if err != nil {
		return nil, err
	}

	faces := s.Identify(detected, scale)
	if err := annotate.Draw(frame, faces); err != nil {
		return nil, err
	}
	return faces, nil
}

// Identify resolves a name for each detected face and maps its box back to
// the original frame.
func (s *Session) Identify(detected []types.DetectedFace, scale float64) []types.LabeledFace {
	faces := make([]types.LabeledFace, len(detected))
	for i, d := range detected {
		matches := match.CompareFaces(s.db.Encodings, d.Descriptor, s.cfg.Tolerance)
		faces[i] = types.LabeledFace{
			Box:  annotate.Rescale(d.Box, scale),
			Name: match.Resolve(matches, s.db.Names),
		}
	}
	return faces
}

// write creates the writer on the first frame that needs it, then writes.
func (s *Session) write(frame gocv.Mat) error {
	if s.writer == nil && s.cfg.Output != "" {
		w, err := s.newWriter(s.cfg.Output, frame.Cols(), frame.Rows())
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("no video writer for %s", s.cfg.Output)
		}
		s.writer = w
	}
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", s.frames+1, err)
	}
	return nil
}

// Close releases the display, the writer (if one was created) and the source.
// It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = Stopped

	var errs []error
	if s.disp != nil {
		errs = append(errs, s.disp.Close())
	}
	if s.writer != nil {
		errs = append(errs, s.writer.Close())
		s.writer = nil
	}
	errs = append(errs, s.src.Close())
	return errors.Join(errs...)
}
