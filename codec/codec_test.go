package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distfs/dfserr"
	"distfs/streamcrypto"
)

type fakePusher struct {
	pushed []*MessageFrame
}

func (p *fakePusher) Push(f *MessageFrame) { p.pushed = append(p.pushed, f) }

func randomKey(t *testing.T) []byte {
	key := make([]byte, streamcrypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	c, err := New(randomKey(t))
	require.NoError(t, err)

	filename := "report.pdf"
	contents := []byte("pdf bytes go here")
	plaintext := append([]byte(filename), contents...)

	frame := &MessageFrame{Type: StoreFile, SourceID: 7, FilenameLength: uint32(len(filename))}
	wire := new(bytes.Buffer)
	n, err := c.Serialize(wire, frame, bytes.NewReader(plaintext), int64(len(plaintext)))
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+int(frame.PayloadSize), n)

	pusher := &fakePusher{}
	got, err := c.Deserialize(bytes.NewReader(wire.Bytes()), pusher)
	require.NoError(t, err)

	require.Len(t, pusher.pushed, 1)
	assert.Same(t, got, pusher.pushed[0])
	assert.Equal(t, StoreFile, got.Type)
	assert.Equal(t, uint32(7), got.SourceID)

	name, rest, err := got.Filename(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, filename, name)
	assert.Equal(t, contents, rest)
}

func TestDeserializeRejectsOversizedFrame(t *testing.T) {
	c, err := New(randomKey(t))
	require.NoError(t, err)

	header := new(bytes.Buffer)
	header.Write(make([]byte, 16)) // iv
	header.WriteByte(byte(StoreFile))
	writeU32(header, 1)
	writeU32(header, 0)
	writeU64(header, MaxPayloadSize+16)

	_, err = c.Deserialize(header, &fakePusher{})
	require.Error(t, err)
	assert.True(t, dfserr.Is(err, dfserr.FrameTooLarge))
}

func TestDeserializeRejectsFilenameLongerThanPlaintext(t *testing.T) {
	c, err := New(randomKey(t))
	require.NoError(t, err)

	// FilenameLength claims more bytes than the (empty) payload actually has.
	frame := &MessageFrame{Type: GetFile, SourceID: 1, FilenameLength: 5}
	wire := new(bytes.Buffer)
	_, err = c.Serialize(wire, frame, bytes.NewReader(nil), 0)
	require.NoError(t, err)

	_, err = c.Deserialize(bytes.NewReader(wire.Bytes()), &fakePusher{})
	require.Error(t, err)
	assert.True(t, dfserr.Is(err, dfserr.InvalidParameters))
}

func TestDeserializeDoesNotPushOnDecryptFailure(t *testing.T) {
	c1, err := New(randomKey(t))
	require.NoError(t, err)
	c2, err := New(randomKey(t))
	require.NoError(t, err)

	frame := &MessageFrame{Type: StoreFile, SourceID: 1, FilenameLength: 3}
	wire := new(bytes.Buffer)
	_, err = c1.Serialize(wire, frame, bytes.NewReader([]byte("abcdef")), 6)
	require.NoError(t, err)

	pusher := &fakePusher{}
	_, err = c2.Deserialize(bytes.NewReader(wire.Bytes()), pusher)
	assert.Error(t, err)
	assert.Empty(t, pusher.pushed)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "STORE_FILE", StoreFile.String())
	assert.Equal(t, "GET_FILE", GetFile.String())
}
