// Package fileserver implements the FileServer component: the top-level
// orchestrator that exposes a local store/get API to callers and
// dispatches inbound frames to the right handler, per spec.md §4.6.
package fileserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"distfs/codec"
	"distfs/dfserr"
	"distfs/dfslog"
	"distfs/p2p"
	"distfs/store"
)

// getTimeout bounds how long GetFile waits for a network reply, per
// spec §4.6 ("2s is the reference").
const getTimeout = 2 * time.Second

// PeerRouter is the narrow capability FileServer needs from the peer
// layer: targeted send, broadcast, and peer count. Constructor-injecting
// this interface rather than a concrete *p2p.PeerManager lets FileServer
// be tested against in-memory doubles, per spec §9's dispatcher-coupling
// design note.
type PeerRouter interface {
	SendTo(peerID uint32, r io.Reader, totalSize int64) bool
	Broadcast(producer p2p.PayloadProducer, totalSize int64) p2p.BroadcastResult
	Size() int
}

// FrameSource is the narrow capability FileServer needs from the
// Channel: block for the next decoded frame.
type FrameSource interface {
	PopWait(ctx context.Context) (*codec.MessageFrame, bool)
}

// Stats counts the operations a FileServer has performed, for logging and
// tests — a single source of truth instead of scattered counters.
type Stats struct {
	FilesStoredLocally uint64
	FilesServedToPeers uint64
	FilesFetched       uint64
	BroadcastFailures  uint64
}

// Opts configures a FileServer.
type Opts struct {
	NodeID uint32
	Store  *store.Store
	Codec  *codec.Codec
	Peers  PeerRouter
	Frames FrameSource
}

// FileServer orchestrates local storage and remote replication and
// dispatches inbound STORE_FILE/GET_FILE frames.
type FileServer struct {
	opts Opts
	log  *dfslog.Logger

	mu      sync.Mutex
	stats   Stats
	waiters map[string][]chan struct{}
}

// New returns a FileServer wired to the given peer router and frame
// source.
func New(opts Opts) *FileServer {
	return &FileServer{
		opts:    opts,
		log:     dfslog.New(fmt.Sprintf("FILESERVER[id=%d]", opts.NodeID)),
		waiters: make(map[string][]chan struct{}),
	}
}

// Stats returns a snapshot of the server's operation counters.
func (s *FileServer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// StoreFile writes filename into the local store, then builds and
// broadcasts a STORE_FILE frame. It returns true iff the local write
// succeeded and the broadcast reached at least one peer — or there are
// zero peers, in which case replication is vacuously satisfied. A
// broadcast where every peer failed returns false but does not roll back
// the local write, per spec §4.6.
func (s *FileServer) StoreFile(filename string, r io.Reader) (bool, error) {
	buf := new(bytes.Buffer)
	tee := io.TeeReader(r, buf)
	if err := s.opts.Store.Store(filename, tee); err != nil {
		return false, err
	}
	// Store reads lazily from tee; force full consumption so buf holds
	// the entire file before we build the outbound frame.
	_, _ = io.Copy(io.Discard, tee)

	s.mu.Lock()
	s.stats.FilesStoredLocally++
	s.mu.Unlock()

	plaintext := append([]byte(filename), buf.Bytes()...)
	frameBytes, err := s.serialize(codec.StoreFile, uint32(len(filename)), plaintext)
	if err != nil {
		return false, err
	}

	if s.opts.Peers.Size() == 0 {
		return true, nil
	}

	result := s.opts.Peers.Broadcast(func() io.Reader {
		return bytes.NewReader(frameBytes)
	}, int64(len(frameBytes)))

	if len(result.Failures) > 0 {
		s.mu.Lock()
		s.stats.BroadcastFailures += uint64(len(result.Failures))
		s.mu.Unlock()
		s.log.Warn("broadcast of %q reached %d/%d peers", filename, len(result.Successes), len(result.Successes)+len(result.Failures))
	}
	return len(result.Successes) > 0, nil
}

// GetFile returns a reader over filename's contents. If the file is
// local, it is read directly. Otherwise a GET_FILE frame is broadcast to
// every peer and GetFile waits up to getTimeout for an inbound
// STORE_FILE dispatch to satisfy it.
func (s *FileServer) GetFile(filename string) (io.Reader, bool, error) {
	if s.opts.Store.Has(filename) {
		rc, err := s.opts.Store.Reader(filename)
		if err != nil {
			return nil, false, err
		}
		return rc, true, nil
	}

	wait := s.registerWaiter(filename)
	defer s.removeWaiter(filename, wait)

	frameBytes, err := s.serialize(codec.GetFile, uint32(len(filename)), []byte(filename))
	if err != nil {
		return nil, false, err
	}

	if s.opts.Peers.Size() == 0 {
		return nil, false, nil
	}

	s.opts.Peers.Broadcast(func() io.Reader {
		return bytes.NewReader(frameBytes)
	}, int64(len(frameBytes)))

	select {
	case <-wait:
	case <-time.After(getTimeout):
		return nil, false, nil
	}

	if !s.opts.Store.Has(filename) {
		return nil, false, nil
	}
	rc, err := s.opts.Store.Reader(filename)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	s.stats.FilesFetched++
	s.mu.Unlock()
	return rc, true, nil
}

// serialize builds one MessageFrame of the given type and plaintext and
// returns its full wire bytes (header + ciphertext), ready to be shared
// read-only across every peer in a broadcast.
func (s *FileServer) serialize(msgType codec.MessageType, filenameLen uint32, plaintext []byte) ([]byte, error) {
	frame := &codec.MessageFrame{
		Type:           msgType,
		SourceID:       s.opts.NodeID,
		FilenameLength: filenameLen,
	}
	out := new(bytes.Buffer)
	if _, err := s.opts.Codec.Serialize(out, frame, bytes.NewReader(plaintext), int64(len(plaintext))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Dispatch handles one decoded frame, per spec §4.6. STORE_FILE frames
// are written to the local store and never re-broadcast (loop
// prevention); GET_FILE frames are answered, if the file is present
// locally, with a STORE_FILE reply sent only to the requesting peer.
func (s *FileServer) Dispatch(frame *codec.MessageFrame) error {
	switch frame.Type {
	case codec.StoreFile:
		return s.handleStoreFile(frame)
	case codec.GetFile:
		return s.handleGetFile(frame)
	default:
		return dfserr.New(dfserr.InvalidParameters, fmt.Sprintf("unknown message type %d", frame.Type))
	}
}

func (s *FileServer) handleStoreFile(frame *codec.MessageFrame) error {
	filename, contents, err := frame.Filename(frame.Payload)
	if err != nil {
		return err
	}
	if err := s.opts.Store.Store(filename, bytes.NewReader(contents)); err != nil {
		return err
	}
	s.mu.Lock()
	s.stats.FilesStoredLocally++
	s.mu.Unlock()
	s.log.Debug("stored %q (%d bytes) from peer %d", filename, len(contents), frame.SourceID)
	s.notifyWaiters(filename)
	return nil
}

func (s *FileServer) handleGetFile(frame *codec.MessageFrame) error {
	filename, _, err := frame.Filename(frame.Payload)
	if err != nil {
		return err
	}
	if !s.opts.Store.Has(filename) {
		s.log.Debug("no local copy of %q requested by peer %d, dropping", filename, frame.SourceID)
		return nil
	}

	buf := new(bytes.Buffer)
	if err := s.opts.Store.Get(filename, buf); err != nil {
		return err
	}
	plaintext := append([]byte(filename), buf.Bytes()...)
	frameBytes, err := s.serialize(codec.StoreFile, uint32(len(filename)), plaintext)
	if err != nil {
		return err
	}
	if !s.opts.Peers.SendTo(frame.SourceID, bytes.NewReader(frameBytes), int64(len(frameBytes))) {
		s.log.Warn("could not reply to peer %d for %q: peer unreachable", frame.SourceID, filename)
		return nil
	}
	s.mu.Lock()
	s.stats.FilesServedToPeers++
	s.mu.Unlock()
	s.log.Info("served %q (%d bytes) to peer %d", filename, buf.Len(), frame.SourceID)
	return nil
}

func (s *FileServer) registerWaiter(filename string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[filename] = append(s.waiters[filename], ch)
	s.mu.Unlock()
	return ch
}

func (s *FileServer) removeWaiter(filename string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[filename]
	for i, c := range list {
		if c == ch {
			s.waiters[filename] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[filename]) == 0 {
		delete(s.waiters, filename)
	}
}

func (s *FileServer) notifyWaiters(filename string) {
	s.mu.Lock()
	list := s.waiters[filename]
	delete(s.waiters, filename)
	s.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}

// Run pops frames from Frames and dispatches them until ctx is canceled.
// This is the channel listener spec §4.6 describes FileServer spawning.
func (s *FileServer) Run(ctx context.Context) {
	s.log.Info("dispatcher started")
	for {
		frame, ok := s.opts.Frames.PopWait(ctx)
		if !ok {
			s.log.Info("dispatcher stopped")
			return
		}
		if err := s.Dispatch(frame); err != nil {
			s.log.Error("dispatch error: %v", err)
		}
	}
}
