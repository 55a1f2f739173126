// Package p2p implements the peer lifecycle and message routing layer:
// TcpPeer (one connected socket), PeerManager (the registry of peers),
// and Channel (the FIFO feeding the FileServer's dispatcher), per
// spec.md §4.4, §4.5, and §4.7.
package p2p

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"distfs/dfserr"
)

// readLoopState tracks TCPPeer's state machine: INITIAL -> READING -> STOPPED.
type readLoopState int32

const (
	stateInitial readLoopState = iota
	stateReading
	stateStopped
)

// stopTimeout bounds how long StopReadLoop waits for the background read
// task to exit, per spec §4.4 ("5s is the reference").
const stopTimeout = 5 * time.Second

// sendChunkSize bounds each Write call Send makes to the socket, per
// spec §4.4 ("in <=8 KiB chunks").
const sendChunkSize = 8 * 1024

// Processor handles one fully-read inbound frame body. r is positioned
// at the start of the frame; its length is exactly the value carried by
// the 4-byte length prefix that preceded it.
type Processor func(r io.Reader) error

// TCPPeer owns exactly one connected TCP socket. ID is populated after a
// successful handshake and is immutable thereafter.
type TCPPeer struct {
	ID       uint32
	conn     net.Conn
	outbound bool

	writeMu sync.Mutex

	mu       sync.Mutex
	state    readLoopState
	cancel   func()
	loopDone chan struct{}
}

// NewTCPPeer wraps conn. outbound records whether this side dialed
// (true) or accepted (false) the connection; it has no effect on
// behavior, only on logging and tests.
func NewTCPPeer(conn net.Conn, outbound bool) *TCPPeer {
	return &TCPPeer{conn: conn, outbound: outbound, state: stateInitial}
}

// RemoteAddr returns the remote end of the underlying connection.
func (p *TCPPeer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// Outbound reports whether this peer was reached by dialing out.
func (p *TCPPeer) Outbound() bool { return p.outbound }

// Send writes a 4-byte big-endian length prefix equal to totalSize, then
// streams totalSize bytes from r to the socket in <=8 KiB chunks. The
// write lock is held for the whole call so concurrent Sends on the same
// peer cannot interleave, per spec §4.4.
func (p *TCPPeer) Send(r io.Reader, totalSize int64) error {
	p.mu.Lock()
	stopped := p.state == stateStopped
	p.mu.Unlock()
	if stopped {
		return dfserr.New(dfserr.Network, "peer is not connected")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var prefix [4]byte
	putU32(prefix[:], uint32(totalSize))
	if _, err := p.conn.Write(prefix[:]); err != nil {
		return dfserr.Wrap(err, dfserr.Network, "write frame length prefix")
	}

	buf := make([]byte, sendChunkSize)
	var remaining int64 = totalSize
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, readErr := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, err := p.conn.Write(buf[:n]); err != nil {
				return dfserr.Wrap(err, dfserr.Network, "write frame body")
			}
			remaining -= int64(n)
		}
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return dfserr.Wrap(readErr, dfserr.IO, "read payload to send")
		}
		if readErr != nil {
			break
		}
	}
	return nil
}

// StartReadLoop launches a background goroutine that repeatedly reads a
// 4-byte length prefix, reads exactly that many bytes, and invokes
// processor with a reader over that buffer, until the socket closes,
// cancellation is requested, or a read fails.
func (p *TCPPeer) StartReadLoop(processor Processor) error {
	p.mu.Lock()
	if p.state != stateInitial {
		p.mu.Unlock()
		return dfserr.New(dfserr.InvalidParameters, "read loop already started")
	}
	done := make(chan struct{})
	p.loopDone = done
	p.state = stateReading
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			var prefix [4]byte
			if _, err := io.ReadFull(p.conn, prefix[:]); err != nil {
				return
			}
			size := getU32(prefix[:])
			body := make([]byte, size)
			if _, err := io.ReadFull(p.conn, body); err != nil {
				return
			}
			if err := processor(bytes.NewReader(body)); err != nil {
				// Per-frame errors don't terminate the read loop directly;
				// only socket-level errors (a failed read above) do. A
				// processor that decides a frame error is fatal to the
				// connection (spec: oversized frame, bogus filename
				// length) is expected to close the underlying conn out of
				// band, which turns the next ReadFull above into exactly
				// such a socket-level error.
				continue
			}
		}
	}()
	return nil
}

// StopReadLoop signals cancellation, closes the socket, and joins the
// background task with a bounded timeout. Safe to call when the loop is
// not running.
func (p *TCPPeer) StopReadLoop() error {
	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return nil
	}
	wasReading := p.state == stateReading
	done := p.loopDone
	p.state = stateStopped
	p.mu.Unlock()

	if err := p.conn.Close(); err != nil && !wasReading {
		return dfserr.Wrap(err, dfserr.Network, "close peer socket")
	}

	if wasReading && done != nil {
		select {
		case <-done:
		case <-time.After(stopTimeout):
			return dfserr.New(dfserr.Network, fmt.Sprintf("read loop did not stop within %s", stopTimeout))
		}
	}
	return nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
