package offline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DefaultPrefix names generations when no prefix is configured.
const DefaultPrefix = "aangan"

// Manifest is the declared set of static resource keys pre-cached at install.
type Manifest struct {
	Keys []string `json:"keys"`
}

// Normalized returns the keys trimmed, de-duplicated and sorted.
func (m Manifest) Normalized() Manifest {
	seen := make(map[string]bool, len(m.Keys))
	out := make([]string, 0, len(m.Keys))
	for _, k := range m.Keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return Manifest{Keys: out}
}

// Document is the manifest as published by the server.
type Document struct {
	Generation string   `json:"generation"`
	Keys       []string `json:"keys"`
}

// GenerationName derives a generation name from the manifest and the bytes
// served for each key. Any change to either yields a new name.
func GenerationName(prefix string, m Manifest, contents map[string][]byte) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	h := sha256.New()
	for _, k := range m.Normalized().Keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		sum := sha256.Sum256(contents[k])
		h.Write(sum[:])
	}
	return prefix + "-" + hex.EncodeToString(h.Sum(nil))[:12]
}

func validGenerationName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
