// Package hashsum provides the pluggable checksum functions used by the
// verification passes.
package hashsum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Default is the algorithm used when none is selected.
const Default = "blake3"

// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Func constructs a fresh hash.
type Func func() hash.Hash

var algorithms = map[string]Func{ //nolint:gochecknoglobals // registry
	"blake3": func() hash.Hash { return blake3.New() },
	"xxhash": func() hash.Hash { return xxhash.New() },
	"sha256": sha256.New,
}

// Lookup returns the constructor for name.
func Lookup(name string) (Func, error) {
	if name == "" {
		name = Default
	}
	fn, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownAlgorithm, name, Names())
	}
	return fn, nil
}

// Names lists the supported algorithms, sorted.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for n := range algorithms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// File hashes the file at path and returns the hex digest.
func File(path string, newHash Func) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := newHash()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
