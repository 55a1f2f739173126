package p2p

import (
	"net"

	"distfs/dfserr"
)

// Handshake runs immediately after TCP connect on both sides, per
// spec.md §6: each side writes its 1-byte peer identifier and reads the
// remote's 1-byte identifier. There is no timeout and no cryptographic
// proof of identity — the identifier is trusted and used only for
// routing, per spec.md's Non-goals.
//
// Identity is normalized to uint32 in memory (spec §9 Open Question 1);
// only the low byte travels on the wire, matching the original
// protocol's single-byte handshake.
func Handshake(conn net.Conn, localID uint32) (remoteID uint32, err error) {
	if _, err := conn.Write([]byte{byte(localID)}); err != nil {
		return 0, dfserr.Wrap(err, dfserr.Network, "write handshake identifier")
	}
	var buf [1]byte
	if _, err := conn.Read(buf[:]); err != nil {
		return 0, dfserr.Wrap(err, dfserr.Network, "read handshake identifier")
	}
	return uint32(buf[0]), nil
}
