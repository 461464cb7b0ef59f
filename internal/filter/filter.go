package filter

import "strings"

// PartialDir is the hidden staging directory the transfer tool keeps partial
// files in. It is always excluded from comparisons.
const PartialDir = ".ferry-partial"

// DefaultJunk lists NAS and desktop metadata that is never migrated.
var DefaultJunk = []string{ //nolint:gochecknoglobals // read-only default list
	".DS_Store",
	"._*",
	".AppleDouble/",
	".AppleDB/",
	".Spotlight-V100/",
	".Trashes/",
	".fseventsd/",
	"Thumbs.db",
	"desktop.ini",
	"@eaDir/",
	"#recycle/",
	"#snapshot/",
	".@__thumb/",
	PartialDir + "/",
}

// Chain is an ordered list of exclude patterns using rsync glob semantics.
type Chain struct {
	patterns []*compiledPattern
}

// NewChain creates an empty chain that excludes nothing.
func NewChain() *Chain {
	return &Chain{}
}

// NewJunkChain returns a chain with DefaultJunk followed by extra.
func NewJunkChain(extra ...string) (*Chain, error) {
	c := NewChain()
	for _, p := range append(append([]string{}, DefaultJunk...), extra...) {
		if err := c.AddExclude(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddExclude appends an exclude pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.patterns = append(c.patterns, cp)
	return nil
}

// Excluded reports whether relPath (relative to the mapping root) is junk.
// A path is also excluded when any of its parent directories is.
func (c *Chain) Excluded(relPath string, isDir bool) bool {
	if c == nil || len(c.patterns) == 0 {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	if c.match(relPath, isDir) {
		return true
	}
	for i := len(relPath) - 1; i > 0; i-- {
		if relPath[i] == '/' && c.match(relPath[:i], true) {
			return true
		}
	}
	return false
}

func (c *Chain) match(relPath string, isDir bool) bool {
	for _, p := range c.patterns {
		if p.match(relPath, isDir) {
			return true
		}
	}
	return false
}

// RsyncArgs renders the chain as --exclude arguments for the transfer tool.
func (c *Chain) RsyncArgs() []string {
	if c == nil {
		return nil
	}
	args := make([]string, 0, len(c.patterns))
	for _, p := range c.patterns {
		args = append(args, "--exclude="+p.original)
	}
	return args
}

// Len returns the number of patterns.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.patterns)
}
