// Package store implements content-addressed on-disk storage: opaque
// string keys are hashed with SHA-256 and hierarchically sharded into a
// directory tree, with streaming I/O so storing or reading a file never
// requires holding the whole thing in memory.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"distfs/dfserr"
	"distfs/dfslog"
)

// DefaultRootDirName is used when Opts.Root is empty.
const DefaultRootDirName = "dfs-store"

// bufferSize is the bounded buffer used for all streaming copies, per
// spec §4.1's "8 KiB is the reference choice".
const bufferSize = 8 * 1024

// PathKey is the resolved on-disk location for a ContentAddress: a
// directory path and the final file name within it.
type PathKey struct {
	PathName string
	FileName string
}

// FullPath joins PathName and FileName into the path relative to a
// Store's root.
func (p PathKey) FullPath() string {
	return filepath.Join(p.PathName, p.FileName)
}

// FirstShard returns the outermost directory segment of PathName, the
// unit Remove would need to prune if empty-directory pruning were ever
// implemented (see DESIGN.md Open Question 2).
func (p PathKey) FirstShard() string {
	segments := strings.Split(filepath.ToSlash(p.PathName), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

// PathTransformFunc maps an opaque key to its on-disk PathKey.
type PathTransformFunc func(key string) PathKey

// CASPathTransform hashes key with SHA-256 and splits the lowercase hex
// digest into three 2-character directory levels plus a 58-character
// leaf file name, per spec §3.
func CASPathTransform(key string) PathKey {
	sum := sha256.Sum256([]byte(key))
	hexSum := hex.EncodeToString(sum[:])
	return PathKey{
		PathName: filepath.Join(hexSum[0:2], hexSum[2:4], hexSum[4:6]),
		FileName: hexSum[6:64],
	}
}

// Opts configures a Store.
type Opts struct {
	Root              string
	PathTransformFunc PathTransformFunc
}

// Store persists opaque key -> byte-stream pairs under a content-addressed
// directory tree rooted at Opts.Root.
type Store struct {
	opts Opts
	log  *dfslog.Logger
}

// New returns a Store rooted at opts.Root, defaulting PathTransformFunc to
// CASPathTransform and Root to DefaultRootDirName when unset.
func New(opts Opts) *Store {
	if opts.PathTransformFunc == nil {
		opts.PathTransformFunc = CASPathTransform
	}
	if opts.Root == "" {
		opts.Root = DefaultRootDirName
	}
	return &Store{opts: opts, log: dfslog.New("STORE")}
}

func (s *Store) resolve(key string) string {
	pk := s.opts.PathTransformFunc(key)
	return filepath.Join(s.opts.Root, pk.FullPath())
}

// Has reports whether key is present. It never fails.
func (s *Store) Has(key string) bool {
	_, err := os.Stat(s.resolve(key))
	return !errors.Is(err, fs.ErrNotExist)
}

// Store drains r into the file resolved from key, creating intermediate
// directories as needed and overwriting any existing file. It flushes
// before returning success.
func (s *Store) Store(key string, r io.Reader) error {
	pk := s.opts.PathTransformFunc(key)
	dir := filepath.Join(s.opts.Root, pk.PathName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("create directory for key %q", key))
	}

	full := filepath.Join(dir, pk.FileName)
	f, err := os.Create(full)
	if err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("create file for key %q", key))
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("write file for key %q", key))
	}
	if err := f.Sync(); err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("flush file for key %q", key))
	}
	return nil
}

// Get streams the stored bytes for key to w.
func (s *Store) Get(key string, w io.Writer) error {
	full := s.resolve(key)
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dfserr.Wrap(err, dfserr.NotFound, fmt.Sprintf("key %q", key))
		}
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("open file for key %q", key))
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(w, f, buf); err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("read file for key %q", key))
	}
	return nil
}

// Reader opens the stored file for key and returns a handle the caller
// must Close. Used by callers that want a lazy io.Reader rather than
// pushing bytes through Get's io.Writer.
func (s *Store) Reader(key string) (io.ReadCloser, error) {
	full := s.resolve(key)
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dfserr.Wrap(err, dfserr.NotFound, fmt.Sprintf("key %q", key))
		}
		return nil, dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("open file for key %q", key))
	}
	return f, nil
}

// Remove deletes the file for key. It does not prune now-empty parent
// shard directories (spec §9 Open Question 2 — see DESIGN.md).
func (s *Store) Remove(key string) error {
	full := s.resolve(key)
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return dfserr.New(dfserr.NotFound, fmt.Sprintf("key %q", key))
	}
	if err := os.Remove(full); err != nil {
		return dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("remove key %q", key))
	}
	return nil
}

// Clear removes every entry under the store's root, then recreates the
// root directory so subsequent Store calls don't need to special-case it.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.opts.Root); err != nil {
		return dfserr.Wrap(err, dfserr.IO, "clear store root")
	}
	if err := os.MkdirAll(s.opts.Root, 0o755); err != nil {
		return dfserr.Wrap(err, dfserr.IO, "recreate store root")
	}
	return nil
}

// FileSize returns the on-disk size of the stored file for key.
func (s *Store) FileSize(key string) (int64, error) {
	fi, err := os.Stat(s.resolve(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, dfserr.Wrap(err, dfserr.NotFound, fmt.Sprintf("key %q", key))
		}
		return 0, dfserr.Wrap(err, dfserr.IO, fmt.Sprintf("stat key %q", key))
	}
	return fi.Size(), nil
}

// Root returns the store's base directory, used by node at startup to log
// where a node's files live.
func (s *Store) Root() string { return s.opts.Root }

// Count returns the number of files currently stored under the root,
// walking the shard tree. Used only by node's startup log line.
func (s *Store) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, dfserr.Wrap(err, dfserr.IO, "count store entries")
	}
	return n, nil
}
