package radio

import (
	"fmt"
	"sync"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// Stub is an in-memory Radio. Sends complete immediately with the outcome set
// by FailSends.
type Stub struct {
	mu     sync.Mutex
	table  peerTable
	onRecv RecvFunc
	onSent SentFunc
	txLog  []Frame

	FailSends bool
}

func NewStub(tableSize int) *Stub {
	return &Stub{table: newPeerTable(tableSize)}
}

func (s *Stub) Start(onRecv RecvFunc, onSent SentFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecv = onRecv
	s.onSent = onSent
	return nil
}

func (s *Stub) AddPeer(addr model.PeerAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.add(addr)
}

func (s *Stub) Send(to model.PeerAddr, payload []byte) error {
	s.mu.Lock()
	if s.onSent == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if !s.table.has(to) {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", to, ErrUnknownPeer)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.txLog = append(s.txLog, Frame{Type: FrameData, Addr: to, Payload: cp})
	onSent, ok := s.onSent, !s.FailSends
	s.mu.Unlock()

	onSent(to, ok)
	return nil
}

// InjectRx delivers payload as if it had been received from addr.
func (s *Stub) InjectRx(from model.PeerAddr, payload []byte) {
	s.mu.Lock()
	onRecv := s.onRecv
	s.mu.Unlock()
	if onRecv == nil {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	onRecv(from, cp)
}

func (s *Stub) TxLog() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.txLog))
	copy(out, s.txLog)
	return out
}

func (s *Stub) Close() error { return nil }
