package files

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const maxNameBytes = 128

// GenerateKey derives a storage key from the original filename:
// "<uuid>-<sanitized name>". Uploads of identically named files never
// collide and no coordination is needed.
func GenerateKey(originalName string) string {
	return uuid.NewString() + "-" + SanitizeFilename(originalName)
}

// SanitizeFilename reduces name to a single safe path segment. Directory
// components are dropped and anything outside [A-Za-z0-9._-] becomes '_'.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "/" || name == "." {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > maxNameBytes {
		out = out[len(out)-maxNameBytes:]
	}
	// Trim after truncating so the kept tail never starts with a dot.
	out = strings.TrimLeft(out, ".")
	if out == "" {
		return "file"
	}
	return out
}

// IsGeneratedKey reports whether key has the shape GenerateKey produces.
func IsGeneratedKey(key string) bool {
	if len(key) < 38 || key[36] != '-' {
		return false
	}
	if _, err := uuid.Parse(key[:36]); err != nil {
		return false
	}
	return SanitizeFilename(key[37:]) == key[37:]
}
