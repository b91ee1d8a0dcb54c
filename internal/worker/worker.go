package worker

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/types"
	"github.com/andresmejia3/neptune/internal/utils" // Using the SafeCommand wrapper
)

// Request opcodes. Frame: [Op:1][Len:4][Body]
const (
	opInit    byte = 1
	opProcess byte = 2
	opRelease byte = 3
)

// Reply status. Frame: [Len:4][Status:1][Body]
const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxReplySize caps a reply length header so a corrupt stream cannot force a huge allocation.
const maxReplySize = 64 * 1024 * 1024

// defaultGracePeriod bounds how long Close waits for a clean exit when no read timeout is set.
const defaultGracePeriod = 5 * time.Second

var (
	ErrEngineCrashed = errors.New("engine process crashed")
	ErrTimeout       = errors.New("engine read timed out")
	ErrProtocol      = errors.New("engine protocol violation")
	// ErrWorkerBroken is returned for every request after a crash, timeout or
	// protocol error. The reply stream can no longer be trusted.
	ErrWorkerBroken = errors.New("engine process unusable")
)

// RemoteError is an error reported by the engine process itself. The process stays usable.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "engine error: " + e.Message
}

// PythonWorker is not safe for concurrent use; engine.Handle serializes calls.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	ReadTimeout time.Duration

	broken error
}

// NewPythonWorker spawns one engine process.
func NewPythonWorker(id int, command string, readTimeout time.Duration) (*PythonWorker, error) {
	name, args, err := utils.ParseCommand(command)
	if err != nil {
		return nil, err
	}
	py := utils.NewSafeCommand(name, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: readTimeout,
	}, nil
}

// Communicate writes one request frame and reads one reply frame. A crash,
// timeout or protocol error retires the worker: its process is killed and
// later calls fail with ErrWorkerBroken without touching the pipes.
func (w *PythonWorker) Communicate(op byte, data []byte) ([]byte, error) {
	if w.broken != nil {
		return nil, fmt.Errorf("worker %d: %w: %w", w.ID, ErrWorkerBroken, w.broken)
	}
	body, err := w.roundTrip(op, data)
	if err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			w.retire(err)
		}
	}
	return body, err
}

// retire marks the worker unusable and kills its process, so a late reply
// can never be read as the answer to a newer request.
func (w *PythonWorker) retire(err error) {
	w.broken = err
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

// Broken reports why the worker was retired, or nil.
func (w *PythonWorker) Broken() error {
	return w.broken
}

func (w *PythonWorker) roundTrip(op byte, data []byte) ([]byte, error) {
	header := make([]byte, 5)
	header[0] = op
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, w.crashed(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.crashed(err)
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, lenBuf); err != nil {
		return nil, w.crashed(err)
	}
	respLen := binary.BigEndian.Uint32(lenBuf)
	if respLen == 0 || respLen > maxReplySize {
		return nil, fmt.Errorf("%w: reply length %d", ErrProtocol, respLen)
	}

	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, w.crashed(err)
	}

	switch respBody[0] {
	case statusOK:
		return respBody[1:], nil
	case statusError:
		return nil, &RemoteError{Message: decodeErrorBody(respBody[1:])}
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrProtocol, respBody[0])
	}
}

func (w *PythonWorker) crashed(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.ReadTimeout)
	}
	return fmt.Errorf("worker %d: %w: %v", w.ID, ErrEngineCrashed, err)
}

// decodeErrorBody accepts either {"error": "..."} or a bare message.
func decodeErrorBody(body []byte) string {
	var res types.ErrorResult
	if json.Unmarshal(body, &res) == nil && res.Error != "" {
		return res.Error
	}
	return string(body)
}

// Init sends the engine configuration. The engine loads its models before replying.
func (w *PythonWorker) Init(cfg config.Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = w.Communicate(opInit, payload)
	return err
}

// ProcessFrame sends a packed RGB frame. Body: [Width:4][Height:4][Pixels]
func (w *PythonWorker) ProcessFrame(pixels []byte, width, height int) ([]types.FaceResult, error) {
	body := make([]byte, 8+len(pixels))
	binary.BigEndian.PutUint32(body[0:4], uint32(width))
	binary.BigEndian.PutUint32(body[4:8], uint32(height))
	copy(body[8:], pixels)

	resp, err := w.Communicate(opProcess, body)
	if err != nil {
		return nil, err
	}

	faces := []types.FaceResult{}
	if len(resp) == 0 {
		return faces, nil
	}
	if err := json.Unmarshal(resp, &faces); err != nil {
		err = fmt.Errorf("%w: malformed results: %v", ErrProtocol, err)
		w.retire(err)
		return nil, err
	}
	return faces, nil
}

// Close asks the engine to free its models, then tears the process down.
// A process that has not exited within the grace period (ReadTimeout, or
// defaultGracePeriod when unset) is killed.
func (w *PythonWorker) Close() {
	if w.broken == nil {
		header := []byte{opRelease, 0, 0, 0, 0}
		_, _ = w.Stdin.Write(header)
	}
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil || w.Cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Cmd.Wait()
	}()

	grace := w.ReadTimeout
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		_ = w.Cmd.Process.Kill()
		<-done
	}
}
