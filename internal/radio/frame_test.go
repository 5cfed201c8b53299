package radio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

var testAddr = model.PeerAddr{0x24, 0x6F, 0x28, 0xAA, 0xBB, 0xCC}

func TestEncodeFrameLayout(t *testing.T) {
	data, err := EncodeFrame(Frame{Type: FrameData, Addr: testAddr, Payload: []byte{0x01, 0x02}})
	require.NoError(t, err)

	assert.Len(t, data, headerSize+2+crcSize+terminalSize)
	assert.Equal(t, byte(len(data)-1), data[0])
	assert.Equal(t, byte(FrameData), data[1])
	assert.Equal(t, testAddr[:], data[2:8])
	assert.Equal(t, []byte{0x01, 0x02}, data[8:10])
	assert.Equal(t, byte(FrameTerminal), data[len(data)-1])
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	good, err := EncodeFrame(Frame{Type: FrameRecv, Addr: testAddr, Payload: []byte("hello")})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped payload bit", func(b []byte) []byte { b[9] ^= 0x01; return b }},
		{"missing terminal", func(b []byte) []byte { b[len(b)-1] = 0x00; return b }},
		{"wrong length byte", func(b []byte) []byte { b[0]++; return b }},
		{"truncated", func(b []byte) []byte { return b[:5] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, err := DecodeFrame(data)
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestEncodeFramePayloadLimit(t *testing.T) {
	_, err := EncodeFrame(Frame{Type: FrameData, Payload: make([]byte, MaxPayloadSize)})
	assert.NoError(t, err)

	_, err = EncodeFrame(Frame{Type: FrameData, Payload: make([]byte, MaxPayloadSize+1)})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecoderStream(t *testing.T) {
	var stream bytes.Buffer
	frames := []Frame{
		{Type: FrameRecv, Addr: testAddr, Payload: []byte{1, 2, 3}},
		{Type: FrameSendStatus, Addr: testAddr, Payload: []byte{0}},
		{Type: FrameAddPeer, Addr: testAddr},
	}
	for _, f := range frames {
		data, err := EncodeFrame(f)
		require.NoError(t, err)
		stream.Write(data)
	}

	dec := NewDecoder(&stream)
	for _, want := range frames {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderResyncsAfterCorruptLength(t *testing.T) {
	frames := []Frame{
		{Type: FrameRecv, Addr: testAddr, Payload: []byte{1, 2, 3}},
		{Type: FrameRecv, Addr: testAddr, Payload: []byte{4, 5, 6}},
		{Type: FrameRecv, Addr: testAddr, Payload: []byte{7, 8, 9}},
		{Type: FrameSendStatus, Addr: testAddr, Payload: []byte{0}},
	}
	var stream bytes.Buffer
	for i, f := range frames {
		data, err := EncodeFrame(f)
		require.NoError(t, err)
		if i == 1 {
			// length now runs into the middle of the following frame
			data[0] = 30
		}
		stream.Write(data)
	}

	dec := NewDecoder(&stream)

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, frames[0], got)

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrBadFrame)

	for _, want := range frames[2:] {
		got, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderTruncatedTail(t *testing.T) {
	data, err := EncodeFrame(Frame{Type: FrameRecv, Addr: testAddr, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	dec := NewDecoder(bytes.NewReader(data[:6]))
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
