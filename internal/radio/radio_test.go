package radio

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

func TestStubPeerTable(t *testing.T) {
	s := NewStub(2)
	require.NoError(t, s.AddPeer(model.PeerAddr{1}))
	require.NoError(t, s.AddPeer(model.PeerAddr{1}), "re-adding a known peer is not an error")
	require.NoError(t, s.AddPeer(model.PeerAddr{2}))
	assert.ErrorIs(t, s.AddPeer(model.PeerAddr{3}), ErrPeerTableFull)
}

func TestStubSendReportsCompletion(t *testing.T) {
	s := NewStub(4)
	var results []bool
	require.NoError(t, s.Start(func(model.PeerAddr, []byte) {}, func(_ model.PeerAddr, ok bool) {
		results = append(results, ok)
	}))

	assert.ErrorIs(t, s.Send(testAddr, []byte{1}), ErrUnknownPeer)

	require.NoError(t, s.AddPeer(testAddr))
	require.NoError(t, s.Send(testAddr, []byte{1}))
	s.FailSends = true
	require.NoError(t, s.Send(testAddr, []byte{2}))

	assert.Equal(t, []bool{true, false}, results)
	assert.Len(t, s.TxLog(), 2)
}

func TestStubSendBeforeStart(t *testing.T) {
	s := NewStub(4)
	require.NoError(t, s.AddPeer(testAddr))
	assert.ErrorIs(t, s.Send(testAddr, nil), ErrNotStarted)
}

func TestSerialBridge(t *testing.T) {
	host, coproc := net.Pipe()
	bridge := newSerialBridge(host, "pipe", 2)

	var mu sync.Mutex
	var received [][]byte
	var sent []bool
	require.NoError(t, bridge.Start(
		func(from model.PeerAddr, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, testAddr, from)
			received = append(received, payload)
		},
		func(to model.PeerAddr, ok bool) {
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, ok)
		},
	))

	// co-processor side: read what the host writes
	coprocFrames := make(chan Frame, 4)
	go func() {
		dec := NewDecoder(coproc)
		for {
			f, err := dec.Next()
			if err != nil {
				return
			}
			coprocFrames <- f
		}
	}()

	require.NoError(t, bridge.AddPeer(testAddr))
	f := <-coprocFrames
	assert.Equal(t, FrameAddPeer, f.Type)
	assert.Equal(t, testAddr, f.Addr)

	require.NoError(t, bridge.Send(testAddr, []byte{9, 9}))
	f = <-coprocFrames
	assert.Equal(t, FrameData, f.Type)
	assert.Equal(t, []byte{9, 9}, f.Payload)

	assert.ErrorIs(t, bridge.Send(model.PeerAddr{7}, nil), ErrUnknownPeer)

	for _, out := range []Frame{
		{Type: FrameRecv, Addr: testAddr, Payload: []byte{1, 2, 3}},
		{Type: FrameSendStatus, Addr: testAddr, Payload: []byte{0}},
		{Type: FrameSendStatus, Addr: testAddr, Payload: []byte{1}},
	} {
		data, err := EncodeFrame(out)
		require.NoError(t, err)
		_, err = coproc.Write(data)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && len(sent) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []byte{1, 2, 3}, received[0])
	assert.Equal(t, []bool{true, false}, sent)
	mu.Unlock()

	require.NoError(t, bridge.Close())
	require.NoError(t, bridge.Close())
	coproc.Close()
}

func TestSerialBridgeSendBeforeStart(t *testing.T) {
	host, coproc := net.Pipe()
	defer coproc.Close()
	bridge := newSerialBridge(host, "pipe", 2)
	defer bridge.Close()

	assert.ErrorIs(t, bridge.Send(testAddr, nil), ErrNotStarted)
}
