package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/wire"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the board over a serial port.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	messages  chan wire.Message
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	drained   bool // messages was closed by Close
}

// New creates a new Serial device with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		messages: make(chan wire.Message, bufSize),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading messages.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	if d.drained {
		d.messages = make(chan wire.Message, d.bufSize)
		d.drained = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = port
	d.cancel = cancel
	d.done = make(chan struct{})
	d.connected = true

	go func(out chan<- wire.Message, done chan<- struct{}) {
		defer close(done)
		readMessages(ctx, port, out)
	}(d.messages, d.done)

	return nil
}

// Close closes the port and the messages channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	// Closing the port unblocks the reader
	if err := d.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	<-d.done
	d.conn = nil
	d.connected = false

	close(d.messages)
	d.drained = true

	return nil
}

// Messages returns the channel for reading messages.
func (d *Serial) Messages() <-chan wire.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messages
}

// Measure sends a measurement command to the board.
func (d *Serial) Measure(req feedback.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, wire.FormatCommand(req)+"\n"); err != nil {
		return fmt.Errorf("failed to send measure command: %w", err)
	}

	return nil
}

// SetWaveform sends a waveform command to the board.
func (d *Serial) SetWaveform(w wire.Waveform) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	if _, err := io.WriteString(d.conn, wire.FormatWaveform(w)+"\n"); err != nil {
		return fmt.Errorf("failed to send waveform command: %w", err)
	}

	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readMessages reads lines from the serial port and parses them into messages.
func readMessages(ctx context.Context, src io.Reader, out chan<- wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readMessages: %v", r)
		}
	}()

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg, err := wire.ParseMessage(line)
		if err != nil {
			log.Printf("Failed to parse line '%s': %v", line, err)
			continue
		}
		msg.Received = time.Now()

		// Send message to channel (non-blocking)
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		default:
			log.Printf("Messages channel full, dropping message")
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}
