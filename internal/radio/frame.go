package radio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// Frame layout on the bridge UART:
//
//	Length(1) | Type(1) | Addr(6) | Payload(0-242) | CRC32(4) | Terminal(1)
//
// Length counts every byte after itself. The CRC covers Type, Addr and Payload.
const (
	lengthSize   = 1
	typeSize     = 1
	addrSize     = 6
	crcSize      = 4
	terminalSize = 1

	headerSize     = lengthSize + typeSize + addrSize
	MaxFrameSize   = 256
	MaxPayloadSize = MaxFrameSize - headerSize - crcSize - terminalSize

	FrameTerminal = 0x55
)

type FrameType byte

const (
	FrameAddPeer    FrameType = 0x01 // host -> bridge
	FrameData       FrameType = 0x02 // host -> bridge, transmit to Addr
	FrameRecv       FrameType = 0x03 // bridge -> host, received from Addr
	FrameSendStatus FrameType = 0x04 // bridge -> host, payload[0] == 0 on success
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrBadFrame        = errors.New("bad frame")
)

type Frame struct {
	Type    FrameType
	Addr    model.PeerAddr
	Payload []byte
}

func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode frame: %w (%d bytes)", ErrPayloadTooLarge, len(f.Payload))
	}

	bodyLen := typeSize + addrSize + len(f.Payload) + crcSize + terminalSize
	data := make([]byte, lengthSize+bodyLen)
	data[0] = byte(bodyLen)
	data[1] = byte(f.Type)
	copy(data[2:headerSize], f.Addr[:])
	copy(data[headerSize:], f.Payload)

	crcPos := headerSize + len(f.Payload)
	binary.LittleEndian.PutUint32(data[crcPos:crcPos+crcSize], crc32.ChecksumIEEE(data[1:crcPos]))
	data[len(data)-1] = FrameTerminal
	return data, nil
}

// DecodeFrame parses exactly one frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	minLen := headerSize + crcSize + terminalSize
	if len(data) < minLen {
		return f, fmt.Errorf("%w: %d bytes is shorter than a header", ErrBadFrame, len(data))
	}
	if int(data[0])+lengthSize != len(data) {
		return f, fmt.Errorf("%w: length byte %d does not match %d bytes", ErrBadFrame, data[0], len(data))
	}
	if data[len(data)-1] != FrameTerminal {
		return f, fmt.Errorf("%w: missing terminal byte", ErrBadFrame)
	}

	crcPos := len(data) - terminalSize - crcSize
	want := binary.LittleEndian.Uint32(data[crcPos : crcPos+crcSize])
	if got := crc32.ChecksumIEEE(data[1:crcPos]); got != want {
		return f, fmt.Errorf("%w: crc %08x, expected %08x", ErrBadFrame, got, want)
	}

	f.Type = FrameType(data[1])
	copy(f.Addr[:], data[2:headerSize])
	if crcPos > headerSize {
		f.Payload = make([]byte, crcPos-headerSize)
		copy(f.Payload, data[headerSize:crcPos])
	}
	return f, nil
}

// Decoder reads consecutive frames from a byte stream.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame. A corrupt frame yields an error wrapping
// ErrBadFrame; the decoder then skips past the next terminal byte so a
// damaged length does not desynchronise the frames after it.
func (d *Decoder) Next() (Frame, error) {
	head, err := d.r.Peek(lengthSize)
	if err != nil {
		return Frame{}, err
	}
	n := int(head[0]) + lengthSize

	buf, err := d.r.Peek(n)
	if err != nil {
		if len(buf) == 0 {
			return Frame{}, err
		}
		if d.resync() {
			return Frame{}, fmt.Errorf("%w: stream ended inside a %d byte frame", ErrBadFrame, n)
		}
		return Frame{}, io.ErrUnexpectedEOF
	}

	f, err := DecodeFrame(buf)
	if err != nil {
		d.resync()
		return Frame{}, err
	}
	d.r.Discard(n)
	return f, nil
}

// resync drops buffered bytes through the first terminal after the current
// frame start, or just the start byte when no terminal is buffered yet.
// It reports whether a terminal was found.
func (d *Decoder) resync() bool {
	window, _ := d.r.Peek(d.r.Buffered())
	if len(window) > 1 {
		if i := bytes.IndexByte(window[1:], FrameTerminal); i >= 0 {
			d.r.Discard(i + 2)
			return true
		}
	}
	d.r.Discard(1)
	return false
}
