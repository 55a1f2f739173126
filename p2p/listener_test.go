package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerAcceptAndDialHandshake(t *testing.T) {
	serverAccepted := make(chan *TCPPeer, 1)
	server := NewListener(1, func(p *TCPPeer) error {
		serverAccepted <- p
		return nil
	})
	require.NoError(t, server.ListenAndAccept("127.0.0.1:0"))
	defer server.Close()

	addr := server.listener.Addr().String()

	clientAccepted := make(chan *TCPPeer, 1)
	client := NewListener(2, func(p *TCPPeer) error {
		clientAccepted <- p
		return nil
	})
	require.NoError(t, client.Dial(addr))

	select {
	case p := <-serverAccepted:
		assert.Equal(t, uint32(2), p.ID)
		assert.False(t, p.Outbound())
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a connection")
	}

	select {
	case p := <-clientAccepted:
		assert.Equal(t, uint32(1), p.ID)
		assert.True(t, p.Outbound())
	case <-time.After(2 * time.Second):
		t.Fatal("client dial never completed onAccept")
	}
}

func TestListenerCloseStopsAccepting(t *testing.T) {
	l := NewListener(1, func(p *TCPPeer) error { return nil })
	require.NoError(t, l.ListenAndAccept("127.0.0.1:0"))
	require.NoError(t, l.Close())

	err := l.Dial(l.listener.Addr().String())
	assert.Error(t, err)
}
