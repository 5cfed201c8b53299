package radio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// SerialBridge drives a radio co-processor attached over a serial port.
type SerialBridge struct {
	rw   io.ReadWriteCloser
	name string

	mu      sync.Mutex
	table   peerTable
	started bool
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
}

var openPort = func(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

func OpenSerial(name string, baud, tableSize int) (*SerialBridge, error) {
	port, err := openPort(name, baud)
	if err != nil {
		return nil, fmt.Errorf("open radio port %s: %w", name, err)
	}
	log.Info().
		Str("port", name).
		Int("baud", baud).
		Msg("Radio bridge port opened")
	return newSerialBridge(port, name, tableSize), nil
}

func newSerialBridge(rw io.ReadWriteCloser, name string, tableSize int) *SerialBridge {
	return &SerialBridge{
		rw:    rw,
		name:  name,
		table: newPeerTable(tableSize),
		done:  make(chan struct{}),
	}
}

func (b *SerialBridge) Start(onRecv RecvFunc, onSent SentFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("start radio bridge: port closed")
	}
	if b.started {
		return nil
	}
	b.started = true
	go b.reader(onRecv, onSent)
	return nil
}

func (b *SerialBridge) reader(onRecv RecvFunc, onSent SentFunc) {
	defer close(b.done)
	dec := NewDecoder(b.rw)

	for {
		f, err := dec.Next()
		if errors.Is(err, ErrBadFrame) {
			log.Warn().Err(err).Str("port", b.name).Msg("Discarding corrupt radio frame")
			continue
		}
		if err != nil {
			if !b.isClosed() {
				log.Error().Err(err).Str("port", b.name).Msg("Radio bridge read failed, done reading")
			}
			return
		}

		switch f.Type {
		case FrameRecv:
			onRecv(f.Addr, f.Payload)
		case FrameSendStatus:
			onSent(f.Addr, len(f.Payload) > 0 && f.Payload[0] == 0)
		default:
			log.Debug().Uint8("type", uint8(f.Type)).Msg("Ignoring unexpected radio frame type")
		}
	}
}

func (b *SerialBridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *SerialBridge) write(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.rw.Write(data); err != nil {
		return fmt.Errorf("write radio frame: %w", err)
	}
	return nil
}

func (b *SerialBridge) AddPeer(addr model.PeerAddr) error {
	b.mu.Lock()
	if b.table.has(addr) {
		b.mu.Unlock()
		return nil
	}
	if err := b.table.add(addr); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	return b.write(Frame{Type: FrameAddPeer, Addr: addr})
}

func (b *SerialBridge) Send(to model.PeerAddr, payload []byte) error {
	b.mu.Lock()
	started, known := b.started, b.table.has(to)
	b.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !known {
		return fmt.Errorf("send to %s: %w", to, ErrUnknownPeer)
	}
	return b.write(Frame{Type: FrameData, Addr: to, Payload: payload})
}

func (b *SerialBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	err := b.rw.Close()
	if started {
		<-b.done
	}
	return err
}
