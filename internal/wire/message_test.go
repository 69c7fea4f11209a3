package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/uuid"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// TestRoundTrip checks decode(encode(m)) == m for every valid type.
func TestRoundTrip(t *testing.T) {
	sender := uuid.New()
	texts := []string{"", "alice", "héllo wörld", "日本語", "emoji 🙂 pair", "line\nbreak"}
	for typ := TypeDiscoverMe; typ < typeEnd; typ++ {
		for _, text := range texts {
			m := New(sender, typ, text, loopback)
			got, err := Decode(Encode(m), loopback)
			if err != nil {
				t.Fatalf("Decode(%s, %q) error: %v", typ, text, err)
			}
			if got != m {
				t.Errorf("round trip = %+v; want %+v", got, m)
			}
		}
	}
}

// TestEncodeLayout pins the byte layout: UUID, big-endian ordinal, UTF-16LE.
func TestEncodeLayout(t *testing.T) {
	sender := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	buf := Encode(New(sender, TypeChatMessage, "hi", netip.Addr{}))
	want := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
		0x00, 0x00, 0x00, 0x08,
		'h', 0x00, 'i', 0x00,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("Encode = % x; want % x", buf, want)
	}
}

// TestDecodeSubstitutesLoneSurrogate checks that an unpaired surrogate is
// replaced rather than rejected.
func TestDecodeSubstitutesLoneSurrogate(t *testing.T) {
	buf := Encode(New(uuid.New(), TypeChatMessage, "", loopback))
	buf = append(buf, 'a', 0x00, 0x00, 0xd8, 'b', 0x00) // a, U+D800, b
	m, err := Decode(buf, loopback)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if m.Text != "a\uFFFDb" {
		t.Errorf("Text = %q; want %q", m.Text, "a\uFFFDb")
	}
}

// TestDecodeRejectsMalformed ensures malformed buffers yield a *DecodeError.
func TestDecodeRejectsMalformed(t *testing.T) {
	valid := Encode(New(uuid.New(), TypeDiscoverMe, "bob", loopback))

	withType := func(ordinal uint32) []byte {
		b := append([]byte(nil), valid...)
		binary.BigEndian.PutUint32(b[16:20], ordinal)
		return b
	}

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"nil", nil, ErrShortMessage},
		{"one byte", []byte{1}, ErrShortMessage},
		{"header minus one", valid[:HeaderSize-1], ErrShortMessage},
		{"type none", withType(0), ErrUnknownType},
		{"type past end", withType(uint32(typeEnd)), ErrUnknownType},
		{"type huge", withType(0xffffffff), ErrUnknownType},
		{"odd text", valid[:len(valid)-1], ErrOddText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf, loopback)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v; want %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("error %T is not a *DecodeError", err)
			}
		})
	}
}

// TestDecodeNeverPanics feeds every prefix of a valid message to Decode.
func TestDecodeNeverPanics(t *testing.T) {
	valid := Encode(New(uuid.New(), TypeChatMessage, "some text", loopback))
	for i := 0; i <= len(valid); i++ {
		Decode(valid[:i], loopback)
	}
	junk := bytes.Repeat([]byte{0xff}, 64)
	if _, err := Decode(junk, loopback); err == nil {
		t.Error("Decode accepted junk")
	}
}

// TestEncodeDatagramLimit ensures oversize payloads are refused by the sender.
func TestEncodeDatagramLimit(t *testing.T) {
	sender := uuid.New()
	fits := strings.Repeat("a", (MaxDatagramSize-HeaderSize)/2)
	if _, err := EncodeDatagram(New(sender, TypeDiscoverMe, fits, loopback)); err != nil {
		t.Fatalf("EncodeDatagram(%d chars) error: %v", len(fits), err)
	}
	_, err := EncodeDatagram(New(sender, TypeDiscoverMe, fits+"a", loopback))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("EncodeDatagram error = %v; want ErrMessageTooLarge", err)
	}
}

// TestFrameRoundTrip writes several frames to a buffer and reads them back.
func TestFrameRoundTrip(t *testing.T) {
	sender := uuid.New()
	msgs := []Message{
		New(sender, TypeChatIdentify, "", loopback),
		New(sender, TypeChatMessage, "hi", loopback),
		New(sender, TypeChatMessage, "", loopback),
	}
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatalf("WriteFrame error: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := ReadFrame(&buf, loopback)
		if err != nil {
			t.Fatalf("ReadFrame #%d error: %v", i, err)
		}
		if got != want {
			t.Errorf("frame #%d = %+v; want %+v", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf, loopback); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame on empty stream = %v; want io.EOF", err)
	}
}

// TestReadFrameSkipsBadBody checks that a bad body leaves the stream aligned.
func TestReadFrameSkipsBadBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 3, 1, 2, 3})
	good := New(uuid.New(), TypeChatMessage, "after", loopback)
	if err := WriteFrame(&buf, good); err != nil {
		t.Fatalf("WriteFrame error: %v", err)
	}

	_, err := ReadFrame(&buf, loopback)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("ReadFrame error = %v; want *DecodeError", err)
	}
	got, err := ReadFrame(&buf, loopback)
	if err != nil {
		t.Fatalf("ReadFrame after bad body error: %v", err)
	}
	if got != good {
		t.Errorf("ReadFrame = %+v; want %+v", got, good)
	}
}

// TestReadFrameLength rejects zero and oversize length prefixes.
func TestReadFrameLength(t *testing.T) {
	for _, n := range []uint32{0, MaxFrameSize + 1} {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], n)
		_, err := ReadFrame(bytes.NewReader(header[:]), loopback)
		if !errors.Is(err, ErrFrameSize) {
			t.Errorf("ReadFrame(len=%d) error = %v; want ErrFrameSize", n, err)
		}
	}

	truncated := []byte{0, 0, 0, 40, 1, 2}
	if _, err := ReadFrame(bytes.NewReader(truncated), loopback); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame(truncated) error = %v; want io.ErrUnexpectedEOF", err)
	}
}
