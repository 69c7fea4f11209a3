package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// MaxFrameSize bounds the length prefix accepted by ReadFrame.
const MaxFrameSize = 64 * 1024

// ErrFrameSize reports a length prefix of zero or above MaxFrameSize. The
// stream cannot be resynchronized after it.
var ErrFrameSize = errors.New("invalid frame length")

// WriteFrame writes m to w as [4 bytes length, big-endian][message]. The
// whole frame goes out in one Write so concurrent writers on a locked
// connection never interleave.
func WriteFrame(w io.Writer, m Message) error {
	body := Encode(m)
	if len(body) > MaxFrameSize {
		return fmt.Errorf("write frame: %d bytes: %w", len(body), ErrFrameSize)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from r. A body that fails to
// decode returns a *DecodeError with the stream still aligned on the next
// frame; io errors and ErrFrameSize leave the stream unusable.
func ReadFrame(r io.Reader, from netip.Addr) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > MaxFrameSize {
		return Message{}, fmt.Errorf("read frame: length %d: %w", n, ErrFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("read frame body: %w", err)
	}
	return Decode(body, from)
}
