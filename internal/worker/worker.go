package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blondedman/face-recognition/internal/types"
	"github.com/blondedman/face-recognition/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxFaces guards against allocating from a corrupted count.
	maxFaces = 1024
	// faceSize is one encoded face: 4 x int32 box + 128 x float32 encoding.
	faceSize = 4*4 + 4*128
	// maxResponse bounds the reply length read from the header.
	maxResponse = 1 + 4 + maxFaces*faceSize
)

// ErrEmptyCommand is returned when no worker command line was given.
var ErrEmptyCommand = errors.New("worker command is empty")

// Worker drives an external face detection process (e.g. a face_recognition
// script). Frames go out on its stdin, results come back on FD 3 so that
// anything the process prints to stdout/stderr cannot corrupt the stream.
type Worker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// New starts argv[0] with the remaining arguments and wires up the data pipe.
func New(ctx context.Context, id int, argv []string) (*Worker, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	proc := utils.NewSafeCommand(ctx, argv[0], argv[1:]...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end shows up as FD 3 in the child.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	return &Worker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
func (w *Worker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // the process died (missing module, bad model path, ...)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("worker response of %d bytes exceeds %d", respLen, maxResponse)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends an encoded image and decodes the faces found in it.
//
// Response payload:
//
//	OK:    [0] [NumFaces uint32] { [Box 4 x int32: top,right,bottom,left] [Vec 128 x float32] }*
//	Error: [1] [MsgLen uint32] [Msg]
func (w *Worker) ProcessFrame(img []byte) ([]types.DetectedFace, error) {
	resp, err := w.Communicate(img)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp []byte) ([]types.DetectedFace, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if count > maxFaces {
		return nil, fmt.Errorf("worker reported %d faces, refusing more than %d", count, maxFaces)
	}

	faces := make([]types.DetectedFace, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: failed to read box: %w", i, err)
		}
		var vec types.Descriptor
		if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
			return nil, fmt.Errorf("face %d: failed to read encoding: %w", i, err)
		}
		faces = append(faces, types.DetectedFace{
			Box: types.Box{
				Top:    int(box[0]),
				Right:  int(box[1]),
				Bottom: int(box[2]),
				Left:   int(box[3]),
			},
			Descriptor: vec,
		})
	}
	return faces, nil
}

// Close shuts the pipes and waits for the process to exit.
func (w *Worker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
