package util

import (
	"path"
	"strings"
)

// BuildObjectKey joins an optional prefix and an archive name into an object key.
func BuildObjectKey(prefix, name string, encrypted bool) string {
	if encrypted {
		name += ".enc"
	}
	if p := strings.Trim(prefix, "/"); p != "" {
		return path.Join(p, name)
	}
	return name
}

// ArchiveFromKey strips the prefix and encryption suffix from an object key.
func ArchiveFromKey(key string) (name string, encrypted bool) {
	name = path.Base(key)
	if strings.HasSuffix(name, ".enc") {
		return strings.TrimSuffix(name, ".enc"), true
	}
	return name, false
}
