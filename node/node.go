// Package node wires store, streamcrypto, codec, p2p, and fileserver
// into one running instance, and implements the Bootstrap lifecycle:
// bind, dial configured peers, run, and shut down in order, per
// spec.md §5.
package node

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"distfs/codec"
	"distfs/config"
	"distfs/dfserr"
	"distfs/dfslog"
	"distfs/fileserver"
	"distfs/p2p"
	"distfs/retry"
	"distfs/store"
)

// dialTimeout bounds, for each bootstrap peer, how long after its first
// dial attempt further retries are still made. Dialing runs in the
// background; Start does not wait for it.
const dialTimeout = 5 * time.Second

// Node is the composition root: one running instance of every
// component, plus the goroutines that move frames between them.
type Node struct {
	cfg config.Config
	log *dfslog.Logger

	store    *store.Store
	codec    *codec.Codec
	channel  *p2p.Channel
	peers    *p2p.PeerManager
	listener *p2p.Listener
	files    *fileserver.FileServer

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and wires every component, but does not yet bind a
// socket or dial anyone — call Start for that.
func New(cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := store.New(store.Opts{Root: filepath.Join(cfg.Root(), fmt.Sprintf("node-%d", cfg.NodeID))})

	cd, err := codec.New(cfg.Key[:])
	if err != nil {
		return nil, err
	}

	channel := p2p.NewChannel()
	peers := p2p.NewPeerManager()

	n := &Node{
		cfg:     cfg,
		log:     dfslog.New(fmt.Sprintf("NODE[id=%d]", cfg.NodeID)),
		store:   st,
		codec:   cd,
		channel: channel,
		peers:   peers,
		done:    make(chan struct{}),
	}

	n.listener = p2p.NewListener(cfg.NodeID, n.onAccept)
	n.files = fileserver.New(fileserver.Opts{
		NodeID: cfg.NodeID,
		Store:  st,
		Codec:  cd,
		Peers:  peers,
		Frames: channel,
	})
	return n, nil
}

// onAccept registers a newly handshaken peer and starts reading frames
// from it, handing each decoded header to codec.Deserialize which pushes
// onto the shared Channel. This is the de-cycled wiring point spec §9
// calls for: Listener holds only this callback, never a *PeerManager.
//
// A frame that is oversized or carries a bogus filename length is a
// protocol violation, not a transient decode hiccup: codec.Deserialize
// reports these as dfserr.FrameTooLarge / dfserr.InvalidParameters, and
// per spec §7/§8 the peer must be disconnected, not just have the frame
// dropped. StartReadLoop keeps reading past a per-frame error on its
// own, so the deregistration has to close the socket out from under it;
// Unregister's StopReadLoop call would join the read loop's own
// goroutine if invoked inline here, so it runs on a separate goroutine
// instead, and the closed conn unblocks the next read in the loop.
func (n *Node) onAccept(peer *p2p.TCPPeer) error {
	n.peers.Register(peer.ID, peer)
	return peer.StartReadLoop(func(r io.Reader) error {
		_, err := n.codec.Deserialize(r, n.channel)
		if err != nil && (dfserr.Is(err, dfserr.FrameTooLarge) || dfserr.Is(err, dfserr.InvalidParameters)) {
			n.log.Warn("disconnecting peer %d on protocol violation: %v", peer.ID, err)
			go n.peers.Unregister(peer.ID)
		}
		return err
	})
}

// Store exposes the underlying store for callers embedding a Node
// directly (tests, cmd/dfsnode).
func (n *Node) Store() *store.Store { return n.store }

// Files exposes the FileServer for callers driving StoreFile/GetFile.
func (n *Node) Files() *fileserver.FileServer { return n.files }

// Peers exposes the PeerManager, mostly for tests and status reporting.
func (n *Node) Peers() *p2p.PeerManager { return n.peers }

// Start binds the listening socket, starts the dispatcher, and dials
// every configured bootstrap peer (best-effort, each retried via
// retry.DoSimple). Start returns once binding and dispatching are live;
// bootstrap dialing happens in the background so one unreachable peer
// cannot block node startup indefinitely.
func (n *Node) Start(ctx context.Context) error {
	count, err := n.store.Count()
	if err != nil {
		n.log.Warn("could not count existing store entries: %v", err)
	} else {
		n.log.Info("starting with %d file(s) already on disk under %s", count, n.store.Root())
	}

	if err := n.listener.ListenAndAccept(n.cfg.ListenAddress); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	go func() {
		defer close(n.done)
		n.files.Run(runCtx)
	}()

	go n.dialBootstrapPeers()
	return nil
}

func (n *Node) dialBootstrapPeers() {
	for _, addr := range n.cfg.BootstrapPeers {
		addr := addr
		deadline := time.Now().Add(dialTimeout)
		err := retry.DoSimple(func() error {
			if time.Now().After(deadline) {
				return dfserr.New(dfserr.Network, fmt.Sprintf("dial %s: deadline exceeded", addr))
			}
			return n.listener.Dial(addr)
		})
		if err != nil {
			n.log.Warn("could not connect to bootstrap peer %s: %v", addr, err)
			continue
		}
		n.log.Info("connected to bootstrap peer %s", addr)
	}
}

// Shutdown closes the listener, which both stops accepting new
// connections and closes the listening socket, then stops the dispatcher,
// then joins every peer's read loop. The listening socket is therefore
// closed first, before the dispatcher and the peers are stopped.
func (n *Node) Shutdown(ctx context.Context) error {
	if err := n.listener.Close(); err != nil {
		n.log.Warn("error closing listener: %v", err)
	}

	if n.cancel != nil {
		n.cancel()
		n.channel.Close()
		select {
		case <-n.done:
		case <-ctx.Done():
			n.log.Warn("dispatcher did not stop before shutdown context expired")
		}
	}

	n.peers.Shutdown()
	n.log.Info("shutdown complete")
	return nil
}
