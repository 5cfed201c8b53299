// Package radio talks to the peer radio. The serial bridge drives a radio
// co-processor over a UART; the stub keeps everything in memory.
package radio

import (
	"errors"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

var (
	ErrPeerTableFull = errors.New("radio peer table full")
	ErrUnknownPeer   = errors.New("peer not registered with radio")
	ErrNotStarted    = errors.New("radio not started")
)

// RecvFunc and SentFunc are called from the radio's own goroutine.
// They must not block.
type (
	RecvFunc func(from model.PeerAddr, payload []byte)
	SentFunc func(to model.PeerAddr, ok bool)
)

type Radio interface {
	Start(onRecv RecvFunc, onSent SentFunc) error
	AddPeer(addr model.PeerAddr) error
	// Send queues payload for transmission; the outcome arrives through SentFunc.
	Send(to model.PeerAddr, payload []byte) error
	Close() error
}

// peerTable tracks registered peers for both drivers.
type peerTable struct {
	size  int
	peers map[model.PeerAddr]bool
}

func newPeerTable(size int) peerTable {
	return peerTable{size: size, peers: make(map[model.PeerAddr]bool)}
}

func (t *peerTable) add(addr model.PeerAddr) error {
	if t.peers[addr] {
		return nil
	}
	if len(t.peers) >= t.size {
		return ErrPeerTableFull
	}
	t.peers[addr] = true
	return nil
}

func (t *peerTable) has(addr model.PeerAddr) bool {
	return t.peers[addr]
}
