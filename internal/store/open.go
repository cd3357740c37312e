package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolve turns the user supplied --file value into an archive in this store.
// A bare name is looked up in the store directory; a path must point at a
// file whose base name is a valid archive name.
func (s *Store) Resolve(file string) (Archive, error) {
	name := filepath.Base(file)
	if _, err := ParseArchiveName(name); err != nil {
		return Archive{}, err
	}
	if filepath.Dir(file) == "." && file == name {
		return s.Check(name)
	}
	other := &Store{Dir: filepath.Dir(file)}
	return other.Check(name)
}

// Check verifies that the archive exists, is a readable regular file and is
// not empty.
func (s *Store) Check(name string) (Archive, error) {
	arch, err := s.Stat(name)
	if err != nil {
		return Archive{}, err
	}
	if arch.Size == 0 {
		return Archive{}, fmt.Errorf("archive %s is empty", arch.Path)
	}
	f, err := os.Open(arch.Path)
	if err != nil {
		return Archive{}, fmt.Errorf("archive %s is not readable: %w", arch.Path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Archive{}, err
	}
	if !info.Mode().IsRegular() {
		return Archive{}, fmt.Errorf("archive %s is not a regular file", arch.Path)
	}
	return arch, nil
}
