package p2p

import (
	"io"
	"sync"

	"distfs/dfserr"
	"distfs/dfslog"
)

// PeerFailure pairs a peer identifier with the reason its send failed,
// used in BroadcastResult per spec.md §4.5.
type PeerFailure struct {
	PeerID uint32
	Kind   dfserr.Kind
}

// BroadcastResult aggregates the outcome of a broadcast across every
// registered peer. Broadcast never fails as a whole; this is returned
// even when every peer failed.
type BroadcastResult struct {
	Successes []uint32
	Failures  []PeerFailure
}

// PayloadProducer returns a fresh, independently-readable reader over the
// same logical payload each time it's called, so Broadcast can give every
// peer its own reader without buffering the whole payload once per peer.
// Per spec §9, the simplest correct implementation buffers the ciphertext
// once and returns a new bytes.Reader view over it for each call.
type PayloadProducer func() io.Reader

// PeerManager owns the registry of completed peers, keyed by their
// handshake-assigned identifier, per spec.md §4.5.
type PeerManager struct {
	mu    sync.RWMutex
	peers map[uint32]*TCPPeer
	log   *dfslog.Logger
}

// NewPeerManager returns an empty PeerManager.
func NewPeerManager() *PeerManager {
	return &PeerManager{
		peers: make(map[uint32]*TCPPeer),
		log:   dfslog.New("PEERMGR"),
	}
}

// Register adds peer under peerID, overwriting (and disconnecting) any
// prior registration for that id — last writer wins, logged as a
// warning, per spec §4.5.
func (m *PeerManager) Register(peerID uint32, peer *TCPPeer) {
	m.mu.Lock()
	prior, existed := m.peers[peerID]
	m.peers[peerID] = peer
	m.mu.Unlock()

	if existed {
		m.log.Warn("peer %d re-registered, disconnecting previous connection", peerID)
		_ = prior.StopReadLoop()
	}
	m.log.Info("registered peer %d (%s)", peerID, peer.RemoteAddr())
}

// Unregister disconnects and removes peerID. Idempotent.
func (m *PeerManager) Unregister(peerID uint32) {
	m.mu.Lock()
	peer, ok := m.peers[peerID]
	delete(m.peers, peerID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := peer.StopReadLoop(); err != nil {
		m.log.Warn("error stopping read loop for peer %d: %v", peerID, err)
	}
	m.log.Info("unregistered peer %d", peerID)
}

// Contains reports whether peerID is currently registered.
func (m *PeerManager) Contains(peerID uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[peerID]
	return ok
}

// IsConnected is an alias for Contains: this registry only ever holds
// peers that completed the handshake and haven't been unregistered.
func (m *PeerManager) IsConnected(peerID uint32) bool { return m.Contains(peerID) }

// Size returns the number of currently registered peers.
func (m *PeerManager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// SendTo looks up peerID and calls its Send. It returns false, without
// retry, if the peer is unknown.
func (m *PeerManager) SendTo(peerID uint32, r io.Reader, totalSize int64) bool {
	m.mu.RLock()
	peer, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if err := peer.Send(r, totalSize); err != nil {
		m.log.Warn("send to peer %d failed: %v", peerID, err)
		return false
	}
	return true
}

// Broadcast sends one logical payload to every currently connected peer,
// independently, via a fresh reader from producer per peer. It snapshots
// the registry under a read lock, then performs I/O outside the lock so
// a slow peer cannot block the registry, per spec §4.5 and §5.
func (m *PeerManager) Broadcast(producer PayloadProducer, totalSize int64) BroadcastResult {
	m.mu.RLock()
	snapshot := make(map[uint32]*TCPPeer, len(m.peers))
	for id, p := range m.peers {
		snapshot[id] = p
	}
	m.mu.RUnlock()

	result := BroadcastResult{}
	for id, peer := range snapshot {
		if err := peer.Send(producer(), totalSize); err != nil {
			result.Failures = append(result.Failures, PeerFailure{PeerID: id, Kind: dfserr.Network})
			m.log.Warn("broadcast to peer %d failed: %v", id, err)
			continue
		}
		result.Successes = append(result.Successes, id)
	}
	return result
}

// Shutdown unregisters every peer, joining each read loop.
func (m *PeerManager) Shutdown() {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Unregister(id)
	}
}
