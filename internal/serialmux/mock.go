package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/speedgate/internal/gate"
)

// MockSerialPort implements SerialPorter for the dev-mode gate simulator.
type MockSerialPort struct {
	io.Reader
	io.WriteCloser
}

// Close closes the simulated line so Monitor sees EOF.
func (m *MockSerialPort) Close() error {
	if c, ok := m.Reader.(io.Closer); ok {
		c.Close()
	}
	return m.WriteCloser.Close()
}

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// Pass describes one synthetic vehicle crossing the gate.
type Pass struct {
	Axles      int
	SpeedKMH   float64
	WheelbaseM float64
}

// PassEdges returns the edges a pass produces when its first axle reaches
// the entry sensor at startMS: one entry per axle and a single exit when the
// first axle reaches the exit sensor.
func PassEdges(p Pass, startMS int64, distanceMM uint32) []gate.Edge {
	mmPerMS := p.SpeedKMH / 3.6 // m/s == mm/ms
	var edges []gate.Edge
	for i := 0; i < p.Axles; i++ {
		offset := float64(i) * p.WheelbaseM * 1000 / mmPerMS
		edges = append(edges, gate.Edge{Line: gate.LineEntry, UptimeMS: startMS + int64(offset)})
	}
	edges = append(edges, gate.Edge{Line: gate.LineExit, UptimeMS: startMS + int64(float64(distanceMM)/mmPerMS)})
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].UptimeMS < edges[j].UptimeMS })
	return edges
}

// FormatEdge renders an edge in the board's text format.
func FormatEdge(e gate.Edge) string {
	return fmt.Sprintf("%s,%d", e.Line, e.UptimeMS)
}

// RandomPass returns a plausible vehicle: mostly two-axle cars, sometimes
// trucks, at speeds that straddle typical urban limits.
func RandomPass(r *rand.Rand) Pass {
	p := Pass{Axles: 2, SpeedKMH: 25 + r.Float64()*55, WheelbaseM: 2.4 + r.Float64()*0.6}
	if r.IntN(5) == 0 {
		p.Axles = 3 + r.IntN(3)
		p.SpeedKMH = 20 + r.Float64()*40
		p.WheelbaseM = 3.5 + r.Float64()*1.5
	}
	return p
}

// NewMockSerialMux creates a SerialMux backed by a simulated gate controller
// that reports a random vehicle pass every interval (jittered).
func NewMockSerialMux(interval time.Duration, distanceMM uint32, seed uint64) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader:      r,
		WriteCloser: discardCloser{io.Discard},
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	start := time.Now()
	log.Printf("Simulating gate controller: one pass every ~%s over %d mm", interval, distanceMM)

	go func() {
		defer w.Close()
		for {
			gap := interval/2 + time.Duration(rng.Int64N(int64(interval)+1))
			time.Sleep(gap)

			uptime := time.Since(start).Milliseconds()
			for _, e := range PassEdges(RandomPass(rng), uptime, distanceMM) {
				if d := time.Duration(e.UptimeMS-time.Since(start).Milliseconds()) * time.Millisecond; d > 0 {
					time.Sleep(d)
				}
				if _, err := io.WriteString(w, FormatEdge(e)+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError are returned once by the next call if set.
	ReadError  error
	WriteError error
	CloseError error

	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	Closed     bool
	WriteCalls int

	readCond *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data is added
// or the port is closed.
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

	for !t.Closed && t.ReadError == nil && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, io.EOF
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
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers, which then see
// EOF once the buffer is drained.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}
