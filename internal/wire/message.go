// Package wire implements the binary message format shared by the UDP
// discovery protocol and the TCP chat protocol.
//
// A message is laid out as
//
//	[16 bytes sender UUID][4 bytes type ordinal, big-endian][UTF-16LE text]
//
// UDP carries exactly one message per datagram. TCP prefixes every message
// with a 4 byte length, see WriteFrame and ReadFrame.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// Type is the message type ordinal carried on the wire.
type Type uint32

const (
	// TypeNone is reserved and never valid on the wire.
	TypeNone Type = iota

	// udp
	TypeDiscoverMe
	TypeAcknowledgeDiscover
	TypeUsernameAlreadyTaken
	TypeChangeUsernameRequest
	TypeStatusChange
	TypeDisconnect

	// tcp
	TypeChatIdentify
	TypeChatMessage

	typeEnd
)

var typeNames = [...]string{
	TypeNone:                  "NONE",
	TypeDiscoverMe:            "DISCOVER_ME",
	TypeAcknowledgeDiscover:   "ACKNOWLEDGE_DISCOVER",
	TypeUsernameAlreadyTaken:  "USERNAME_ALREADY_TAKEN",
	TypeChangeUsernameRequest: "CHANGE_USERNAME_REQUEST",
	TypeStatusChange:          "STATUS_CHANGE",
	TypeDisconnect:            "DISCONNECT",
	TypeChatIdentify:          "CHAT_IDENTIFY",
	TypeChatMessage:           "CHAT_MESSAGE",
}

func (t Type) String() string {
	if t < typeEnd {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// Valid reports whether t may appear on the wire.
func (t Type) Valid() bool {
	return t > TypeNone && t < typeEnd
}

// Discovery reports whether t belongs to the UDP discovery protocol.
func (t Type) Discovery() bool {
	return t >= TypeDiscoverMe && t <= TypeDisconnect
}

const (
	senderSize = 16
	typeSize   = 4

	// HeaderSize is the smallest possible encoded message: sender and type
	// with an empty text.
	HeaderSize = senderSize + typeSize

	// MaxDatagramSize caps one discovery packet.
	MaxDatagramSize = 256
)

var (
	ErrShortMessage    = errors.New("message shorter than header")
	ErrUnknownType     = errors.New("unknown message type")
	ErrOddText         = errors.New("text is not a whole number of UTF-16 code units")
	ErrMessageTooLarge = errors.New("message exceeds datagram size")
)

// DecodeError describes a buffer that could not be turned into a Message.
type DecodeError struct {
	Len     int
	Ordinal uint32
	Err     error
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrUnknownType) {
		return fmt.Sprintf("decode %d bytes: %v %d", e.Len, e.Err, e.Ordinal)
	}
	return fmt.Sprintf("decode %d bytes: %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Message is an immutable protocol message. Addr is never serialized: on
// send it is the destination, on receive the observed source.
type Message struct {
	Sender uuid.UUID
	Type   Type
	Text   string
	Addr   netip.Addr
}

// New builds a message addressed to addr.
func New(sender uuid.UUID, t Type, text string, addr netip.Addr) Message {
	return Message{Sender: sender, Type: t, Text: text, Addr: addr}
}

func (m Message) String() string {
	return fmt.Sprintf("%s from %s (%d chars)", m.Type, m.Sender, len(m.Text))
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Encode serializes m. Invalid UTF-8 in the text is replaced by U+FFFD.
func Encode(m Message) []byte {
	text, err := utf16le.NewEncoder().Bytes([]byte(m.Text))
	if err != nil {
		// the UTF-16 encoder substitutes instead of failing; keep Encode total anyway
		text = nil
	}
	buf := make([]byte, HeaderSize+len(text))
	copy(buf[:senderSize], m.Sender[:])
	binary.BigEndian.PutUint32(buf[senderSize:HeaderSize], uint32(m.Type))
	copy(buf[HeaderSize:], text)
	return buf
}

// EncodeDatagram serializes m for a single UDP packet. Messages that do not
// fit in MaxDatagramSize are refused rather than truncated.
func EncodeDatagram(m Message) ([]byte, error) {
	buf := Encode(m)
	if len(buf) > MaxDatagramSize {
		return nil, fmt.Errorf("%s: %d bytes: %w", m.Type, len(buf), ErrMessageTooLarge)
	}
	return buf, nil
}

// Decode parses b as a message received from addr. It never panics; any
// malformed input yields a *DecodeError.
func Decode(b []byte, from netip.Addr) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, &DecodeError{Len: len(b), Err: ErrShortMessage}
	}
	ordinal := binary.BigEndian.Uint32(b[senderSize:HeaderSize])
	t := Type(ordinal)
	if !t.Valid() {
		return Message{}, &DecodeError{Len: len(b), Ordinal: ordinal, Err: ErrUnknownType}
	}
	raw := b[HeaderSize:]
	if len(raw)%2 != 0 {
		return Message{}, &DecodeError{Len: len(b), Ordinal: ordinal, Err: ErrOddText}
	}
	// unpaired surrogates come back as U+FFFD; the decoder reports no error
	text, _ := utf16le.NewDecoder().Bytes(raw)

	var sender uuid.UUID
	copy(sender[:], b[:senderSize])
	return Message{Sender: sender, Type: t, Text: string(text), Addr: from}, nil
}
