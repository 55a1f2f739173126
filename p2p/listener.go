package p2p

import (
	"errors"
	"net"

	"distfs/dfserr"
	"distfs/dfslog"
)

// OnAccept is called once per completed handshake, for both accepted and
// dialed connections. Implementations typically call
// PeerManager.Register. Per spec §9's design note, the accept path holds
// only this function-like reference — never a back-pointer into
// PeerManager — removing the cycle the original C++ source has between
// the accept path and the peer registry.
type OnAccept func(peer *TCPPeer) error

// Listener owns the listening socket and the dial-out path, performing
// the handshake on both sides before handing the resulting *TCPPeer to
// OnAccept.
type Listener struct {
	localID  uint32
	listener net.Listener
	onAccept OnAccept
	log      *dfslog.Logger
}

// NewListener returns a Listener that will identify this node as localID
// during every handshake.
func NewListener(localID uint32, onAccept OnAccept) *Listener {
	return &Listener{localID: localID, onAccept: onAccept, log: dfslog.New("LISTENER")}
}

// ListenAndAccept binds addr and starts the accept loop in a background
// goroutine.
func (l *Listener) ListenAndAccept(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return dfserr.Wrap(err, dfserr.Network, "listen on "+addr)
	}
	l.listener = ln
	go l.acceptLoop()
	l.log.Info("listening on %s", addr)
	return nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("accept error: %v", err)
			continue
		}
		go l.handleAccepted(conn)
	}
}

func (l *Listener) handleAccepted(conn net.Conn) {
	remoteID, err := Handshake(conn, l.localID)
	if err != nil {
		l.log.Warn("handshake failed with %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	peer := NewTCPPeer(conn, false)
	peer.ID = remoteID
	if err := l.onAccept(peer); err != nil {
		l.log.Warn("onAccept rejected peer %d: %v", remoteID, err)
		_ = conn.Close()
	}
}

// Dial connects to addr, performs the handshake, and hands the resulting
// peer to OnAccept.
func (l *Listener) Dial(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return dfserr.Wrap(err, dfserr.Network, "dial "+addr)
	}
	remoteID, err := Handshake(conn, l.localID)
	if err != nil {
		_ = conn.Close()
		return err
	}
	peer := NewTCPPeer(conn, true)
	peer.ID = remoteID
	if err := l.onAccept(peer); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Addr returns the bound listening address. Only valid after
// ListenAndAccept has succeeded.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if l.listener == nil {
		return nil
	}
	if err := l.listener.Close(); err != nil {
		return dfserr.Wrap(err, dfserr.Network, "close listener")
	}
	return nil
}
