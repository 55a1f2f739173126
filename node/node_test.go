package node

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distfs/codec"
	"distfs/config"
)

func newTestNode(t *testing.T, id uint32, addr string, peers []string) *Node {
	cfg := config.Config{
		NodeID:         id,
		ListenAddress:  addr,
		BootstrapPeers: peers,
		Key:            sha256.Sum256([]byte("shared-test-secret")),
		StorageRoot:    t.TempDir(),
	}
	n, err := New(cfg)
	require.NoError(t, err)
	return n
}

func startNode(t *testing.T, n *Node) {
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestTwoNodeReplication covers spec §8 Scenario 3: a file stored on one
// node is broadcast and lands on the peer that bootstrapped to it, and
// GetFile on that peer then reads the replicated local copy. Fetching a
// file present only remotely is covered by TestRemoteFetchFillsLocalStore.
func TestTwoNodeReplication(t *testing.T) {
	n1 := newTestNode(t, 1, "127.0.0.1:0", nil)
	startNode(t, n1)

	// Node 1 bound an ephemeral port; fetch its real address for node 2 to
	// bootstrap against.
	n1Addr := n1.listener.Addr().String()

	n2 := newTestNode(t, 2, "127.0.0.1:0", []string{n1Addr})
	startNode(t, n2)

	waitUntil(t, 2*time.Second, func() bool { return n1.Peers().Size() >= 1 && n2.Peers().Size() >= 1 })

	ok, err := n1.Files().StoreFile("replica.txt", bytes.NewReader([]byte("replicated contents")))
	require.NoError(t, err)
	assert.True(t, ok)

	waitUntil(t, 2*time.Second, func() bool { return n2.Store().Has("replica.txt") })

	r, found, err := n2.Files().GetFile("replica.txt")
	require.NoError(t, err)
	require.True(t, found)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "replicated contents", string(b))
}

// TestRemoteFetchFillsLocalStore covers spec §8 Scenario 4: a node with no
// local copy fetches a file over the network and thereafter serves it
// locally.
func TestRemoteFetchFillsLocalStore(t *testing.T) {
	n1 := newTestNode(t, 1, "127.0.0.1:0", nil)
	startNode(t, n1)
	n1Addr := n1.listener.Addr().String()

	n2 := newTestNode(t, 2, "127.0.0.1:0", []string{n1Addr})
	startNode(t, n2)

	waitUntil(t, 2*time.Second, func() bool { return n1.Peers().Size() >= 1 && n2.Peers().Size() >= 1 })

	// Store directly in node 1's local store only, bypassing broadcast, to
	// simulate a file that genuinely exists only on the remote node.
	require.NoError(t, n1.Store().Store("onlyhere.txt", bytes.NewReader([]byte("remote only"))))
	assert.False(t, n2.Store().Has("onlyhere.txt"))

	r, found, err := n2.Files().GetFile("onlyhere.txt")
	require.NoError(t, err)
	require.True(t, found)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "remote only", string(b))

	assert.True(t, n2.Store().Has("onlyhere.txt"), "a fetched file should be cached locally")
}

// TestOversizedFrameDisconnectsPeer covers spec §7/§8: a frame whose
// payload_size exceeds codec.MaxPayloadSize is a protocol violation, and
// the offending peer must be disconnected, not merely have the frame
// dropped.
func TestOversizedFrameDisconnectsPeer(t *testing.T) {
	n1 := newTestNode(t, 1, "127.0.0.1:0", nil)
	startNode(t, n1)

	conn, err := net.Dial("tcp", n1.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// One-byte handshake: send our fake id, read n1's.
	_, err = conn.Write([]byte{99})
	require.NoError(t, err)
	var idByte [1]byte
	_, err = io.ReadFull(conn, idByte[:])
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool { return n1.Peers().Size() >= 1 })

	// Hand-roll a 33-byte codec header claiming a payload far past
	// MaxPayloadSize; the outer p2p length prefix only needs to cover the
	// header itself, since Deserialize rejects before reading any payload.
	header := make([]byte, codec.HeaderSize)
	binary.BigEndian.PutUint64(header[25:33], uint64(codec.MaxPayloadSize)+1)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(header)))
	_, err = conn.Write(lenPrefix[:])
	require.NoError(t, err)
	_, err = conn.Write(header)
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool { return n1.Peers().Size() == 0 })

	// The connection should be torn down, not merely left idle.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "peer connection should be closed after a protocol violation")
}
