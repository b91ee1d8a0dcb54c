package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/andresmejia3/neptune/internal/config"
	"github.com/andresmejia3/neptune/internal/domain"
	"github.com/andresmejia3/neptune/internal/engine"
	"github.com/andresmejia3/neptune/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
	Closed bool
}

func (m *MockCloser) Close() error {
	m.Closed = true
	return nil
}

// writeReply appends a [Len][Status][Body] frame, as the engine process would.
func writeReply(dst io.Writer, status byte, body []byte) {
	binary.Write(dst, binary.BigEndian, uint32(len(body)+1))
	dst.Write([]byte{status})
	dst.Write(body)
}

func newMockWorker(id int) (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: id, Stdin: stdinMock, DataPipe: dataPipeMock}, stdinMock, dataPipeMock
}

func TestProcessFrame(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(1)

	faces := []types.FaceResult{{
		Box:      types.FaceBox{X: 10, Y: 10, Width: 20, Height: 20, Confidence: 0.9},
		Emotion:  types.EmotionResult{Label: types.EmotionHappiness, Confidence: 0.8},
		Liveness: types.LivenessResult{Status: types.LivenessLive, Confidence: 0.7, Reason: "blink"},
	}}
	body, _ := json.Marshal(faces)
	writeReply(dataPipeMock, statusOK, body)

	pixels := make([]byte, 2*2*3)
	resp, err := w.ProcessFrame(pixels, 2, 2)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct frame TO the engine
	sent := stdinMock.Bytes()
	if sent[0] != opProcess {
		t.Errorf("Expected op %d, got %d", opProcess, sent[0])
	}
	if n := binary.BigEndian.Uint32(sent[1:5]); int(n) != 8+len(pixels) {
		t.Errorf("Expected body length %d, got %d", 8+len(pixels), n)
	}
	if width := binary.BigEndian.Uint32(sent[5:9]); width != 2 {
		t.Errorf("Expected width 2, got %d", width)
	}
	if len(sent) != 5+8+len(pixels) {
		t.Errorf("Expected %d bytes sent, got %d", 5+8+len(pixels), len(sent))
	}

	// Verify Go read the correct data FROM the engine
	if len(resp) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(resp))
	}
	if resp[0].Emotion.Label != types.EmotionHappiness || resp[0].Liveness.Reason != "blink" {
		t.Errorf("Unexpected face %+v", resp[0])
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(1)
	writeReply(dataPipeMock, statusOK, []byte("[]"))

	resp, err := w.ProcessFrame(make([]byte, 3), 1, 1)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if resp == nil || len(resp) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", resp)
	}
}

func TestProcessFrame_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(1)

	errMsg := "TFLite interpreter failed"
	writeReply(dataPipeMock, statusError, []byte(`{"error":"`+errMsg+`"}`))

	_, err := w.ProcessFrame(make([]byte, 3), 1, 1)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected RemoteError, got %T", err)
	}
	if err.Error() != "engine error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "engine error: "+errMsg, err)
	}
}

func TestProcessFrame_Crash(t *testing.T) {
	w, _, _ := newMockWorker(4)

	// Empty data pipe: the process died before answering
	_, err := w.ProcessFrame(make([]byte, 3), 1, 1)
	if !errors.Is(err, ErrEngineCrashed) {
		t.Fatalf("Expected ErrEngineCrashed, got %v", err)
	}
}

func TestProcessFrame_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*MockCloser)
	}{
		{
			name:  "garbage json",
			setup: func(p *MockCloser) { writeReply(p, statusOK, []byte("{not json")) },
		},
		{
			name:  "unknown status",
			setup: func(p *MockCloser) { writeReply(p, 9, nil) },
		},
		{
			name:  "zero length",
			setup: func(p *MockCloser) { binary.Write(p, binary.BigEndian, uint32(0)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, dataPipeMock := newMockWorker(1)
			tt.setup(dataPipeMock)

			_, err := w.ProcessFrame(make([]byte, 3), 1, 1)
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestInit(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(1)
	writeReply(dataPipeMock, statusOK, nil)

	cfg := config.Default()
	cfg.FaceModelPath = "/data/neptune_models/face_detection.tflite"
	if err := w.Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	sent := stdinMock.Bytes()
	if sent[0] != opInit {
		t.Fatalf("Expected op %d, got %d", opInit, sent[0])
	}
	var got config.Config
	if err := json.Unmarshal(sent[5:], &got); err != nil {
		t.Fatalf("Init payload is not JSON: %v", err)
	}
	if got != cfg {
		t.Errorf("Expected %+v, got %+v", cfg, got)
	}
}

func TestClose(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(1)
	w.Close()

	if !bytes.Equal(stdinMock.Bytes(), []byte{opRelease, 0, 0, 0, 0}) {
		t.Errorf("Expected release frame, got %X", stdinMock.Bytes())
	}
	if !stdinMock.Closed || !dataPipeMock.Closed {
		t.Error("Expected both pipes closed")
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	var pipes []*MockCloser
	e := NewEngine("unused", 0, WithSpawner(func(id int) (*PythonWorker, error) {
		w, _, data := newMockWorker(id)
		writeReply(data, statusOK, nil)                            // init
		writeReply(data, statusOK, []byte(`[{"box":{"x":1}}]`)) // process
		pipes = append(pipes, data)
		return w, nil
	}))

	id, err := e.Create(config.Default())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected nonzero id")
	}
	if e.Live() != 1 {
		t.Errorf("Expected 1 live process, got %d", e.Live())
	}

	faces, err := e.Process(id, make([]byte, 3), 1, 1)
	if err != nil || len(faces) != 1 || faces[0].Box.X != 1 {
		t.Fatalf("Unexpected process result %v (%v)", faces, err)
	}

	e.Release(id)
	if e.Live() != 0 {
		t.Errorf("Expected 0 live processes, got %d", e.Live())
	}
	if !pipes[0].Closed {
		t.Error("Expected data pipe closed on release")
	}

	if _, err := e.Process(id, make([]byte, 3), 1, 1); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Expected ErrUnknownID, got %v", err)
	}
	e.Release(id) // no-op
}

func TestEngine_CreateInitFails(t *testing.T) {
	e := NewEngine("unused", 0, WithSpawner(func(id int) (*PythonWorker, error) {
		w, _, data := newMockWorker(id)
		writeReply(data, statusError, []byte("model not found"))
		return w, nil
	}))

	id, err := e.Create(config.Default())
	if err == nil || id != 0 {
		t.Fatalf("Expected failure with id 0, got %d (%v)", id, err)
	}
	if e.Live() != 0 {
		t.Errorf("Expected no live process, got %d", e.Live())
	}
}

func TestEngine_CreateSpawnFails(t *testing.T) {
	e := NewEngine("definitely-not-a-real-binary-neptune", 0)

	id, err := e.Create(config.Default())
	if err == nil || id != 0 {
		t.Fatalf("Expected spawn failure, got %d (%v)", id, err)
	}
}

func TestEngine_DistinctIDs(t *testing.T) {
	e := NewEngine("unused", 0, WithSpawner(func(id int) (*PythonWorker, error) {
		w, _, data := newMockWorker(id)
		writeReply(data, statusOK, nil)
		return w, nil
	}))

	seen := map[engine.ID]bool{}
	for i := 0; i < 3; i++ {
		id, err := e.Create(config.Default())
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Errorf("Duplicate id %d", id)
		}
		seen[id] = true
	}
}

// newPipeWorker uses a real OS pipe for replies so read deadlines apply.
func newPipeWorker(t *testing.T, id int, timeout time.Duration) (*PythonWorker, *MockCloser, *os.File) {
	t.Helper()
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.Close()
		wr.Close()
	})
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	return &PythonWorker{ID: id, Stdin: stdinMock, DataPipe: r, ReadTimeout: timeout}, stdinMock, wr
}

func TestProcessFrame_LateReplyAfterTimeout(t *testing.T) {
	w, stdinMock, engineSide := newPipeWorker(t, 1, 50*time.Millisecond)

	_, err := w.ProcessFrame(make([]byte, 3), 1, 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	// The slow engine finally answers the first request, then the second
	late, _ := json.Marshal([]types.FaceResult{{Liveness: types.LivenessResult{Reason: "late"}}})
	writeReply(engineSide, statusOK, late)
	writeReply(engineSide, statusOK, []byte("[]"))
	sentBefore := stdinMock.Len()

	faces, err := w.ProcessFrame(make([]byte, 3), 1, 1)
	if !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("Expected ErrWorkerBroken, got faces=%+v err=%v", faces, err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected the original cause to be kept, got %v", err)
	}
	if faces != nil {
		t.Errorf("Expected no faces from a retired worker, got %+v", faces)
	}
	if stdinMock.Len() != sentBefore {
		t.Error("A retired worker must not send new requests")
	}
}

func TestProcessFrame_ProtocolErrorRetires(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(1)
	writeReply(dataPipeMock, 9, nil)
	writeReply(dataPipeMock, statusOK, []byte("[]"))

	if _, err := w.ProcessFrame(make([]byte, 3), 1, 1); !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}
	if _, err := w.ProcessFrame(make([]byte, 3), 1, 1); !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("Expected ErrWorkerBroken, got %v", err)
	}
}

func TestProcessFrame_RemoteErrorKeepsWorker(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(1)
	writeReply(dataPipeMock, statusError, []byte("bad frame"))
	writeReply(dataPipeMock, statusOK, []byte("[]"))

	if _, err := w.ProcessFrame(make([]byte, 3), 1, 1); err == nil {
		t.Fatal("Expected remote error")
	}
	if _, err := w.ProcessFrame(make([]byte, 3), 1, 1); err != nil {
		t.Fatalf("Worker should stay usable after an engine-reported error, got %v", err)
	}
	if w.Broken() != nil {
		t.Errorf("Expected worker not retired, got %v", w.Broken())
	}
}

func TestEngine_TimeoutSurfacesAsEngineError(t *testing.T) {
	var engineSide *os.File
	e := NewEngine("unused", 0, WithSpawner(func(id int) (*PythonWorker, error) {
		w, _, wr := newPipeWorker(t, id, 50*time.Millisecond)
		writeReply(wr, statusOK, nil) // init
		engineSide = wr
		return w, nil
	}))

	id, err := e.Create(config.Default())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h, err := engine.NewHandle(e, id)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Process(make([]byte, 3), 1, 1); !errors.Is(err, domain.ErrEngine) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected engine error wrapping a timeout, got %v", err)
	}

	writeReply(engineSide, statusOK, []byte(`[{"box":{"x":1}}]`))
	faces, err := h.Process(make([]byte, 3), 1, 1)
	if !errors.Is(err, domain.ErrEngine) || !errors.Is(err, ErrWorkerBroken) {
		t.Fatalf("Expected fast failure, got faces=%+v err=%v", faces, err)
	}

	h.Release()
	if e.Live() != 0 {
		t.Errorf("Expected released worker to be removed, got %d live", e.Live())
	}
}

func TestClose_KillsUnresponsiveProcess(t *testing.T) {
	w, err := NewPythonWorker(1, "sleep 5", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPythonWorker failed: %v", err)
	}

	start := time.Now()
	w.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close blocked for %s on an unresponsive process", elapsed)
	}
	if w.Cmd.ProcessState == nil {
		t.Error("Expected the process to be reaped")
	}
}

func TestClose_CleanExitIsNotKilled(t *testing.T) {
	// cat exits on its own once stdin is closed
	w, err := NewPythonWorker(1, "cat", 5*time.Second)
	if err != nil {
		t.Fatalf("NewPythonWorker failed: %v", err)
	}

	w.Close()
	if w.Cmd.ProcessState == nil || !w.Cmd.ProcessState.Success() {
		t.Errorf("Expected a clean exit, got %v", w.Cmd.ProcessState)
	}
}
