// Command dfsnode runs one node of the distributed file store: it binds
// a listening socket, dials any configured bootstrap peers, and serves
// StoreFile/GetFile until terminated.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"distfs/config"
	"distfs/dfslog"
	"distfs/node"
)

func main() {
	var (
		nodeID      = flag.Uint("id", 0, "node identifier, 0-255 (also NODE_ID)")
		listenAddr  = flag.String("listen", os.Getenv("NODE_LISTEN_ADDR"), "address to listen on, e.g. :3000 (also NODE_LISTEN_ADDR)")
		bootstrap   = flag.String("peers", os.Getenv("BOOTSTRAP_PEERS"), "comma-separated bootstrap peer addresses (also BOOTSTRAP_PEERS)")
		storageRoot = flag.String("storage-root", os.Getenv("STORAGE_ROOT"), "directory under which this node's files are stored (also STORAGE_ROOT)")
		secret      = flag.String("secret", os.Getenv("NODE_SECRET"), "passphrase the encryption key is derived from (also NODE_SECRET)")
	)
	flag.Parse()

	if env := os.Getenv("NODE_ID"); env != "" && !flagWasSet("id") {
		fmt.Sscanf(env, "%d", nodeID)
	}

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "dfsnode: -secret (or NODE_SECRET) is required")
		os.Exit(1)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "dfsnode: -listen (or NODE_LISTEN_ADDR) is required")
		os.Exit(1)
	}

	var peers []string
	if *bootstrap != "" {
		peers = strings.Split(*bootstrap, ",")
	}

	cfg := config.Config{
		NodeID:         uint32(*nodeID),
		ListenAddress:  *listenAddr,
		BootstrapPeers: peers,
		Key:            sha256.Sum256([]byte(*secret)),
		StorageRoot:    *storageRoot,
	}

	log := dfslog.New("MAIN")

	n, err := node.New(cfg)
	if err != nil {
		log.Error("configuration error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		log.Error("failed to start: %v", err)
		os.Exit(1)
	}
	log.Info("node %d listening on %s", cfg.NodeID, cfg.ListenAddress)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown: %v", err)
	}
}

func flagWasSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
