package wsproto

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// maxHeaderBytes is the largest a frame header can be: 1 FIN/opcode byte +
// 1 mask/len byte + 8 bytes of extended length + 4 bytes of mask key.
const maxHeaderBytes = 14

// readBufferSize comfortably holds one full frame header plus the largest
// payload this agent accepts, so Peek never needs to grow past the
// bufio.Reader's fixed buffer.
const readBufferSize = maxHeaderBytes + DefaultMaxMessageSize

// Conn is a framed, bidirectional byte stream: one masked, single-frame
// text message per Write, one decoded message per Read. It owns no
// transport concerns (TLS, handshake) — see wshandshake for that — and
// exists purely to give SenderLoop and ReceiverLoop a discipline for
// sharing the underlying net.Conn's write half.
//
// Only one writer may be in flight at a time; writeMu enforces that per
// a single mutex protecting the write half.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps an already-upgraded connection. leftover is any bytes the
// handshake reader had already buffered past the blank line terminating
// the HTTP response; it is fed back into the frame reader so no bytes are
// dropped.
func NewConn(raw net.Conn, leftover []byte) *Conn {
	var r io.Reader = raw
	if len(leftover) > 0 {
		r = io.MultiReader(&staticReader{b: leftover}, raw)
	}
	return &Conn{raw: raw, br: bufio.NewReaderSize(r, readBufferSize)}
}

type staticReader struct{ b []byte }

func (s *staticReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}

// WriteFrame encodes and writes a single frame. Safe for concurrent use by
// multiple goroutines; calls are serialized.
func (c *Conn) WriteFrame(opcode Opcode, payload []byte) error {
	buf, err := Encode(opcode, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(buf)
	return err
}

// ReadMessage blocks until one full frame is available, decodes it, and
// returns its opcode and payload. It does not special-case ping/pong or
// close: ReceiverLoop owns that dispatch.
func (c *Conn) ReadMessage() (Message, error) {
	header, err := c.br.Peek(2)
	if err != nil {
		return Message{}, err
	}
	headerLen, payloadLen, err := frameHeaderLen(c.br)
	if err != nil {
		return Message{}, err
	}
	_ = header

	if payloadLen > DefaultMaxMessageSize {
		// Drain nothing: the caller tears the connection down on this
		// error, so there is no value in consuming the oversized frame.
		return Message{}, ErrMessageTooLarge
	}

	total := headerLen + int(payloadLen)
	buf, err := c.br.Peek(total)
	if err != nil {
		return Message{}, err
	}
	msg, n, err := Decode(buf)
	if err != nil {
		return Message{}, err
	}
	if _, err := c.br.Discard(n); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// frameHeaderLen peeks just enough of br to compute the total header size
// (fixed 2 bytes, plus any length extension, plus mask key) and the
// declared payload length, without reading past maxHeaderBytes.
func frameHeaderLen(br *bufio.Reader) (headerLen int, payloadLen uint64, err error) {
	b, err := br.Peek(2)
	if err != nil {
		return 0, 0, err
	}
	b1 := b[1]
	masked := b1&0x80 != 0
	lenField := uint64(b1 & 0x7f)
	off := 2

	switch lenField {
	case 126:
		ext, err := br.Peek(off + 2)
		if err != nil {
			return 0, 0, err
		}
		lenField = uint64(binary.BigEndian.Uint16(ext[off:]))
		off += 2
	case 127:
		ext, err := br.Peek(off + 8)
		if err != nil {
			return 0, 0, err
		}
		lenField = binary.BigEndian.Uint64(ext[off:])
		off += 8
	}
	if masked {
		off += 4
	}
	return off, lenField, nil
}

// Close closes the underlying connection without sending a websocket
// Close frame. When the underlying connection is a *tls.Conn, closing it
// sends the TLS close_notify alert; SessionSupervisor's teardown relies on
// that alone.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Raw exposes the underlying net.Conn for deadline management.
func (c *Conn) Raw() net.Conn { return c.raw }
