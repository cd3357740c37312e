// Package datadir classifies the contents of an event store data directory
// and decides whether it holds anything worth backing up.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Role is what a directory entry means to the database.
type Role int

const (
	RoleOther Role = iota
	RoleCheckpoint
	RoleChunk
	RoleIndex
)

// IndexDir is the name of the index subtree.
const IndexDir = "index"

func (r Role) String() string {
	switch r {
	case RoleCheckpoint:
		return "checkpoint"
	case RoleChunk:
		return "chunk"
	case RoleIndex:
		return "index"
	default:
		return "other"
	}
}

// Classify maps a top-level entry of the data directory to its role.
// Checkpoints are *.chk files, chunks have an extension starting with "0"
// (000000.000001), and the index is a directory named "index".
func Classify(name string, isDir bool) Role {
	if isDir {
		if name == IndexDir {
			return RoleIndex
		}
		return RoleOther
	}
	if strings.HasSuffix(name, ".chk") {
		return RoleCheckpoint
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 && strings.HasPrefix(name[i+1:], "0") {
		return RoleChunk
	}
	return RoleOther
}

// Inventory is the classified top level of a data directory.
type Inventory struct {
	Exists      bool
	Entries     int
	Checkpoints []string
	Chunks      []string
	HasIndex    bool
	// IndexEntries counts the immediate children of the index directory.
	IndexEntries int
}

// HasArtifacts reports whether any entry is a database file. A freshly
// started server creates an empty index directory, so only a populated
// index counts.
func (inv Inventory) HasArtifacts() bool {
	return len(inv.Checkpoints) > 0 || len(inv.Chunks) > 0 || inv.IndexEntries > 0
}

// Scan reads the top level of dir. A missing directory is not an error.
func Scan(dir string) (Inventory, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return Inventory{}, nil
	}
	if err != nil {
		return Inventory{}, fmt.Errorf("read data directory: %w", err)
	}
	inv := Inventory{Exists: true, Entries: len(entries)}
	for _, e := range entries {
		switch Classify(e.Name(), e.IsDir()) {
		case RoleCheckpoint:
			inv.Checkpoints = append(inv.Checkpoints, e.Name())
		case RoleChunk:
			inv.Chunks = append(inv.Chunks, e.Name())
		case RoleIndex:
			inv.HasIndex = true
			children, err := os.ReadDir(filepath.Join(dir, e.Name()))
			if err != nil {
				return Inventory{}, fmt.Errorf("read index directory: %w", err)
			}
			inv.IndexEntries = len(children)
		}
	}
	sort.Strings(inv.Checkpoints)
	sort.Strings(inv.Chunks)
	return inv, nil
}

// IsFreshInstall reports whether dir holds no recoverable database state:
// it is missing, empty, or contains nothing that classifies as a checkpoint,
// chunk or populated index.
func IsFreshInstall(dir string) (bool, error) {
	inv, err := Scan(dir)
	if err != nil {
		return false, err
	}
	return !inv.HasArtifacts(), nil
}

// HasArtifacts is the inverse of IsFreshInstall for callers that want the
// positive question.
func HasArtifacts(dir string) (bool, error) {
	inv, err := Scan(dir)
	if err != nil {
		return false, err
	}
	return inv.HasArtifacts(), nil
}

// IsEmpty reports whether dir is missing or has no entries at all.
func IsEmpty(dir string) (bool, error) {
	inv, err := Scan(dir)
	if err != nil {
		return false, err
	}
	return inv.Entries == 0, nil
}

// Clear removes everything inside dir but keeps dir itself.
func Clear(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
