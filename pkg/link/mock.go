package link

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/itohio/godmf/pkg/board"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/sim"
	"github.com/itohio/godmf/pkg/wire"
)

// Mock runs the feedback controller on a simulated front end. Results travel
// through the same line protocol as on a real board.
type Mock struct {
	cfg   *config.Config
	board *board.State
	front *sim.FrontEnd
	adc   *sim.ADC

	messages  chan wire.Message
	requests  chan feedback.Request
	mu        sync.RWMutex
	cancel    context.CancelFunc
	pipe      *io.PipeReader
	out       *io.PipeWriter
	workers   sync.WaitGroup
	connected bool
	drained   bool
}

// NewMock creates a new mocked board. A nil cfg uses the defaults.
func NewMock(cfg *config.Config) (*Mock, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mock configuration: %w", err)
	}

	m := &Mock{
		cfg:      cfg,
		board:    board.New(cfg),
		messages: make(chan wire.Message, DefaultBufferSize),
		requests: make(chan feedback.Request, 1),
	}
	m.front = sim.NewFrontEnd(cfg, m.board)
	m.adc = sim.NewADC(m.front)
	m.adc.SetPaced(true)
	m.board.SetPending(func() bool { return len(m.requests) > 0 })

	return m, nil
}

// Board returns the simulated board settings.
func (m *Mock) Board() *board.State {
	return m.board
}

// FrontEnd returns the simulated analog front end.
func (m *Mock) FrontEnd() *sim.FrontEnd {
	return m.front
}

// Connect powers up the simulated board.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}

	pr, pw := io.Pipe()
	w := wire.NewWriter(pw)
	ctrl, err := feedback.New(m.cfg, m.adc, m.front, m.board, w)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	ctrl.Initialize()

	if m.drained {
		m.messages = make(chan wire.Message, DefaultBufferSize)
		m.drained = false
	}
	// drop a request left over from the previous session
	select {
	case <-m.requests:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.pipe, m.out = pr, pw
	m.connected = true

	m.workers.Add(2)
	go func(out chan<- wire.Message) {
		defer m.workers.Done()
		readMessages(ctx, pr, out)
	}(m.messages)
	go func() {
		defer m.workers.Done()
		m.serve(ctx, ctrl, w)
	}()

	return nil
}

// Close powers down the simulated board and closes the messages channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	// Closing both ends fails any pending write of the controller
	m.pipe.Close()
	m.out.Close()
	m.workers.Wait()

	m.connected = false
	close(m.messages)
	m.drained = true

	return nil
}

// Messages returns the channel for reading messages.
func (m *Mock) Messages() <-chan wire.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messages
}

// Measure queues a measurement request. At most one request can wait while
// a measurement runs; its arrival ends the running measurement early.
func (m *Mock) Measure(req feedback.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return ErrNotConnected
	}

	select {
	case m.requests <- req:
		return nil
	default:
		return feedback.ErrBusy
	}
}

// SetWaveform retunes the simulated amplifier.
func (m *Mock) SetWaveform(w wire.Waveform) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.board.SetWaveformFrequency(float32(w.Frequency))
	m.board.SetWaveformVoltage(float32(w.Voltage))
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// serve runs queued requests until ctx is canceled.
func (m *Mock) serve(ctx context.Context, ctrl *feedback.Controller, w *wire.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			n, err := ctrl.MeasureImpedance(ctx, req)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Printf("Measurement failed after %d windows: %v", n, err)
			}
			if err := w.Done(n); err != nil {
				log.Printf("Failed to report measurement end: %v", err)
				return
			}
		}
	}
}
