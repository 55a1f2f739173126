// Package config holds the settings a node needs at startup and
// validates them before anything is wired, so configuration mistakes
// fail fast with a clear error instead of surfacing as a confusing
// runtime failure later.
package config

import (
	"fmt"

	"distfs/dfserr"
	"distfs/streamcrypto"
)

// DefaultStorageRoot is used when Config.StorageRoot is empty.
const DefaultStorageRoot = "."

// Config describes one node's identity, network binding, encryption key,
// bootstrap peers, and storage location.
type Config struct {
	NodeID         uint32
	ListenAddress  string
	BootstrapPeers []string
	Key            [streamcrypto.KeySize]byte
	StorageRoot    string
}

// Validate checks Config for the preconditions node.New relies on,
// returning a dfserr.InvalidParameters error describing the first
// problem found.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return dfserr.New(dfserr.InvalidParameters, "listen address must not be empty")
	}
	zero := true
	for _, b := range c.Key {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return dfserr.New(dfserr.InvalidParameters, "encryption key must not be all-zero")
	}
	for _, addr := range c.BootstrapPeers {
		if addr == "" {
			return dfserr.New(dfserr.InvalidParameters, "bootstrap peer address must not be empty")
		}
		if addr == c.ListenAddress {
			return dfserr.New(dfserr.InvalidParameters, fmt.Sprintf("bootstrap peer %q matches this node's own listen address", addr))
		}
	}
	return nil
}

// Root returns StorageRoot, defaulting to DefaultStorageRoot when unset.
func (c Config) Root() string {
	if c.StorageRoot == "" {
		return DefaultStorageRoot
	}
	return c.StorageRoot
}
