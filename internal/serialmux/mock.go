package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TestableSerialPort is an in-memory port with scriptable reads, captured
// writes and injectable errors.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	ReadError  error // returned once by the next Read
	WriteError error // returned once by the next Write
	CloseError error

	Closed      bool
	ReadCalls   int
	WriteCalls  int
	ReadTimeout time.Duration

	// Reply, when set, is queued for reading after every Write.
	Reply func(written string) string

	// BlockReads makes Read wait for data or Close instead of
	// returning EOF on an empty buffer.
	BlockReads bool

	readCond *sync.Cond
}

var _ TimeoutSerialPorter = (*TestableSerialPort)(nil)

func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err = t.WriteBuffer.Write(p)
	if t.Reply != nil {
		if r := t.Reply(string(p)); r != "" {
			t.ReadBuffer.WriteString(r)
			t.readCond.Broadcast()
		}
	}
	return n, err
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// Written returns everything written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}

// MockOpener is a PortOpener backed by a fixed set of in-memory ports.
type MockOpener struct {
	mu    sync.Mutex
	Ports map[string]*TestableSerialPort
	Calls []string
}

func NewMockOpener(ports map[string]*TestableSerialPort) *MockOpener {
	return &MockOpener{Ports: ports}
}

// Open implements PortOpener.
func (m *MockOpener) Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, path)
	p, ok := m.Ports[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such port", path)
	}
	return p, nil
}
