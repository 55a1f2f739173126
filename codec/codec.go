// Package codec implements the MessageFrame wire format and the Codec
// component that serializes/deserializes it, invoking streamcrypto on the
// payload in-line with the transfer, per spec.md §4.3.
//
// Wire layout (33-byte header + ciphertext payload):
//
//	offset  size  field
//	  0     16    iv
//	 16      1    message_type
//	 17      4    source_id            (big-endian u32)
//	 21      4    filename_length      (big-endian u32)
//	 25      8    payload_size         (big-endian u64)
//	 33      N    ciphertext_payload   (N = payload_size)
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"distfs/dfserr"
	"distfs/streamcrypto"
)

// MessageType distinguishes the two frame kinds this system sends.
type MessageType uint8

const (
	StoreFile MessageType = 0
	GetFile   MessageType = 1
)

func (t MessageType) String() string {
	switch t {
	case StoreFile:
		return "STORE_FILE"
	case GetFile:
		return "GET_FILE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// HeaderSize is the fixed size of a MessageFrame's header, per spec §4.3.
const HeaderSize = 33

// MaxPayloadSize is the configured cap (1 GiB reference, per spec §7 /
// §8) beyond which a deserialized frame is rejected as FrameTooLarge.
const MaxPayloadSize = 1 << 30

// MessageFrame is the unit of peer-to-peer communication. After
// Deserialize, Payload holds the decrypted plaintext: filename ‖ contents
// (STORE_FILE) or filename only (GET_FILE). Serialize takes the plaintext
// as separate arguments; Codec neither reads nor sets PlaintextReader and
// PlaintextLen.
type MessageFrame struct {
	IV              [streamcrypto.IVSize]byte
	Type            MessageType
	SourceID        uint32
	FilenameLength  uint32
	PayloadSize     uint64
	Payload         []byte // decrypted plaintext, populated by Deserialize
	PlaintextReader io.Reader
	PlaintextLen    int64
}

// Filename splits a frame's decrypted plaintext (normally its Payload
// after Deserialize) at FilenameLength into the filename and the
// remaining contents.
func (f *MessageFrame) Filename(plaintext []byte) (name string, rest []byte, err error) {
	if uint64(f.FilenameLength) > uint64(len(plaintext)) {
		return "", nil, dfserr.New(dfserr.InvalidParameters, "filename_length exceeds plaintext length")
	}
	return string(plaintext[:f.FilenameLength]), plaintext[f.FilenameLength:], nil
}

// FramePusher is the narrow capability Deserialize needs from a Channel:
// push a decoded frame onto the dispatcher's queue. Defined here (rather
// than depending on the p2p package's concrete Channel type) so codec and
// p2p can each be imported independently, per spec §9's preference for
// narrow capability interfaces over concrete dependencies.
type FramePusher interface {
	Push(*MessageFrame)
}

// Codec serializes and deserializes MessageFrames. A single instance may
// be shared across sockets: pushes onto the configured FramePusher are
// not synchronized by Codec itself, so callers sharing one Codec across
// goroutines must use a FramePusher whose Push is itself safe for
// concurrent use (p2p.Channel is).
type Codec struct {
	Key []byte
}

// New returns a Codec that encrypts/decrypts with key, which must be
// streamcrypto.KeySize bytes.
func New(key []byte) (*Codec, error) {
	if len(key) != streamcrypto.KeySize {
		return nil, dfserr.New(dfserr.InvalidParameters, fmt.Sprintf("key must be %d bytes", streamcrypto.KeySize))
	}
	return &Codec{Key: key}, nil
}

// Serialize writes frame's header and encrypted payload to w. plaintext
// is read fully; plaintextLen must equal the number of bytes plaintext
// will yield. It returns the total bytes written (33 + ciphertext length).
func (c *Codec) Serialize(w io.Writer, frame *MessageFrame, plaintext io.Reader, plaintextLen int64) (int, error) {
	iv, err := streamcrypto.GenerateIV()
	if err != nil {
		return 0, err
	}
	copy(frame.IV[:], iv)

	ciphertextLen := streamcrypto.CiphertextLen(int(plaintextLen))
	frame.PayloadSize = uint64(ciphertextLen)

	header := new(bytes.Buffer)
	header.Write(frame.IV[:])
	header.WriteByte(byte(frame.Type))
	writeU32(header, frame.SourceID)
	writeU32(header, frame.FilenameLength)
	writeU64(header, frame.PayloadSize)

	if _, err := w.Write(header.Bytes()); err != nil {
		return 0, dfserr.Wrap(err, dfserr.IO, "write frame header")
	}

	n, err := streamcrypto.Encrypt(c.Key, frame.IV[:], w, plaintext)
	if err != nil {
		return HeaderSize, err
	}
	if n != ciphertextLen {
		return HeaderSize + n, dfserr.New(dfserr.Crypto, "ciphertext length mismatch")
	}
	return HeaderSize + n, nil
}

// Deserialize reads one frame's 33-byte header and ciphertext payload
// from r, decrypts the payload, and — before returning — pushes the
// fully-populated frame onto pusher, per spec §4.3 step 4. A decryption
// failure discards the frame: it is not pushed.
func (c *Codec) Deserialize(r io.Reader, pusher FramePusher) (*MessageFrame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, dfserr.Wrap(err, dfserr.IO, "read frame header")
	}

	frame := &MessageFrame{}
	copy(frame.IV[:], header[0:16])
	frame.Type = MessageType(header[16])
	frame.SourceID = binary.BigEndian.Uint32(header[17:21])
	frame.FilenameLength = binary.BigEndian.Uint32(header[21:25])
	frame.PayloadSize = binary.BigEndian.Uint64(header[25:33])

	if frame.PayloadSize > MaxPayloadSize {
		return nil, dfserr.New(dfserr.FrameTooLarge, fmt.Sprintf("payload_size %d exceeds cap %d", frame.PayloadSize, uint64(MaxPayloadSize)))
	}

	ciphertext := make([]byte, frame.PayloadSize)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, dfserr.Wrap(err, dfserr.IO, "read frame payload")
	}

	plaintext := new(bytes.Buffer)
	if _, err := streamcrypto.Decrypt(c.Key, frame.IV[:], plaintext, bytes.NewReader(ciphertext)); err != nil {
		return nil, err
	}

	if uint64(frame.FilenameLength) > uint64(plaintext.Len()) {
		return nil, dfserr.New(dfserr.InvalidParameters, "filename_length exceeds decrypted plaintext length")
	}

	frame.Payload = plaintext.Bytes()
	pusher.Push(frame)
	return frame, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
