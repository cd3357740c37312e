// Package migrate runs the per-version upgrade and downgrade scripts that ship
// next to the compose file, taking a backup first and rolling back on failure.
package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var (
	// ErrInvalidVersion is returned for versions that are not semantic versions.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrScriptNotFound is returned by Locate.
	ErrScriptNotFound = errors.New("migration script not found")
)

// Script is an executable named <direction>-<version>, optionally with a .sh
// extension, for example up-24.10.0 or down-v24.10.0.sh.
type Script struct {
	Path      string
	Direction Direction
	// Version is canonical semver with a leading v.
	Version string
}

// Canonical normalises v to the form semver expects, adding the leading v.
func Canonical(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, strings.TrimPrefix(v, "v"))
	}
	return semver.Canonical(v), nil
}

func parseScriptName(name string) (Direction, string, bool) {
	base := strings.TrimSuffix(name, ".sh")
	var dir Direction
	switch {
	case strings.HasPrefix(base, "up-"):
		dir = Up
	case strings.HasPrefix(base, "down-"):
		dir = Down
	default:
		return "", "", false
	}
	v, err := Canonical(strings.TrimPrefix(base, string(dir)+"-"))
	if err != nil {
		return "", "", false
	}
	return dir, v, true
}

// Discover lists the migration scripts in dir, ordered by version and then
// direction. A missing dir has no scripts.
func Discover(dir string) ([]Script, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var scripts []Script
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d, v, ok := parseScriptName(e.Name())
		if !ok {
			continue
		}
		scripts = append(scripts, Script{Path: filepath.Join(dir, e.Name()), Direction: d, Version: v})
	}
	sort.SliceStable(scripts, func(i, j int) bool {
		if c := semver.Compare(scripts[i].Version, scripts[j].Version); c != 0 {
			return c < 0
		}
		return scripts[i].Direction > scripts[j].Direction
	})
	return scripts, nil
}

// Locate finds the script for version and direction in dir.
func Locate(dir, version string, direction Direction) (Script, error) {
	scripts, err := Discover(dir)
	if err != nil {
		return Script{}, err
	}
	return find(scripts, version, direction)
}

func find(scripts []Script, version string, direction Direction) (Script, error) {
	v, err := Canonical(version)
	if err != nil {
		return Script{}, err
	}
	for _, s := range scripts {
		if s.Version == v && s.Direction == direction {
			return s, nil
		}
	}
	return Script{}, fmt.Errorf("%w: %s-%s", ErrScriptNotFound, direction, strings.TrimPrefix(v, "v"))
}

// Plan returns the scripts that move the installation from one version to
// another. An upgrade runs up scripts for from < v <= to in ascending order;
// a downgrade runs down scripts for to < v <= from in descending order.
func Plan(scripts []Script, from, to string) (Direction, []Script, error) {
	f, err := Canonical(from)
	if err != nil {
		return "", nil, err
	}
	t, err := Canonical(to)
	if err != nil {
		return "", nil, err
	}

	switch semver.Compare(f, t) {
	case 0:
		return Up, nil, nil
	case -1:
		var plan []Script
		for _, s := range scripts {
			if s.Direction == Up && semver.Compare(s.Version, f) > 0 && semver.Compare(s.Version, t) <= 0 {
				plan = append(plan, s)
			}
		}
		return Up, plan, nil
	default:
		var plan []Script
		for i := len(scripts) - 1; i >= 0; i-- {
			s := scripts[i]
			if s.Direction == Down && semver.Compare(s.Version, t) > 0 && semver.Compare(s.Version, f) <= 0 {
				plan = append(plan, s)
			}
		}
		return Down, plan, nil
	}
}
