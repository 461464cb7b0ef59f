package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bamsammich/ferry/internal/filter"
)

// Ledger backends.
const (
	LedgerFile   = "file"
	LedgerSQLite = "sqlite"
)

// Share is a mountable share on an endpoint.
type Share struct {
	Share     string
	MountRoot string
}

// Endpoint is one side of the migration.
type Endpoint struct {
	Name            string
	Address         string
	Share           string
	MountRoot       string
	CredentialsFile string
	MountOptions    string
	AuxShares       []Share
}

// Networked reports whether the endpoint is a remote share that must be
// mounted before use.
func (e Endpoint) Networked() bool {
	return e.Address != ""
}

// Mapping is a declared source -> destination directory pair.
type Mapping struct {
	Name        string
	Source      string
	Destination string
}

// DisplayName is the name used for selection and reporting.
func (m Mapping) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return filepath.Base(m.Source)
}

// Topology is the validated, read-only view of a configuration. Accessors
// return copies so callers cannot mutate shared state.
type Topology struct {
	source        Endpoint
	destination   Endpoint
	logDir        string
	stateDir      string
	ledgerBackend string
	rsyncPath     string
	bwLimit       int64
	exclude       []string
	mappings      []Mapping
}

func (t *Topology) Source() Endpoint      { return cloneEndpoint(t.source) }
func (t *Topology) Destination() Endpoint { return cloneEndpoint(t.destination) }
func (t *Topology) LogDir() string        { return t.logDir }
func (t *Topology) StateDir() string      { return t.stateDir }
func (t *Topology) LedgerBackend() string { return t.ledgerBackend }
func (t *Topology) RsyncPath() string     { return t.rsyncPath }

// BWLimit is the configured bandwidth limit in bytes per second (0 = none).
func (t *Topology) BWLimit() int64 { return t.bwLimit }

// Exclude returns the extra junk patterns configured on top of the defaults.
func (t *Topology) Exclude() []string { return slices.Clone(t.exclude) }

// Mappings returns the directory mappings in declared order.
func (t *Topology) Mappings() []Mapping { return slices.Clone(t.mappings) }

// DestinationRelative returns abs relative to the destination mount root.
func (t *Topology) DestinationRelative(abs string) (string, bool) {
	return relativeTo(t.destination.MountRoot, abs)
}

// ResolveDestRelative maps a path relative to the destination mount root back
// to its source and destination absolute paths. The mapping with the longest
// matching destination wins so nested mappings resolve to the most specific
// pair.
func (t *Topology) ResolveDestRelative(rel string) (src, dst string, ok bool) {
	dst = filepath.Join(t.destination.MountRoot, filepath.Clean("/"+rel))
	m, rest, ok := t.mappingForDest(dst)
	if !ok {
		return "", dst, false
	}
	src = m.Source
	if rest != "." {
		src = filepath.Join(src, rest)
	}
	return src, dst, true
}

// MappingForDestRelative returns the mapping that covers rel, a path relative
// to the destination mount root.
func (t *Topology) MappingForDestRelative(rel string) (Mapping, bool) {
	m, _, ok := t.mappingForDest(filepath.Join(t.destination.MountRoot, filepath.Clean("/"+rel)))
	return m, ok
}

func (t *Topology) mappingForDest(dst string) (Mapping, string, bool) {
	best := -1
	var bestRest string
	for i, m := range t.mappings {
		rest, under := relativeTo(m.Destination, dst)
		if !under {
			continue
		}
		if best < 0 || len(m.Destination) > len(t.mappings[best].Destination) {
			best = i
			bestRest = rest
		}
	}
	if best < 0 {
		return Mapping{}, "", false
	}
	return t.mappings[best], bestRest, true
}

// Build validates f and returns the immutable Topology. Every problem is
// collected so the operator sees the complete list in one pass.
func Build(f File) (*Topology, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	src := endpointFrom(f.Source)
	dst := endpointFrom(f.Destination)
	for _, ep := range []struct {
		label string
		e     Endpoint
	}{{"source", src}, {"destination", dst}} {
		if ep.e.MountRoot == "" {
			addf("%s.mount_root is required", ep.label)
		} else if !filepath.IsAbs(ep.e.MountRoot) {
			addf("%s.mount_root %q must be absolute", ep.label, ep.e.MountRoot)
		}
		if ep.e.Networked() && ep.e.Share == "" {
			addf("%s.share is required when address is set", ep.label)
		}
	}

	if f.LogDir == "" {
		addf("log_dir is required")
	}

	backend := f.LedgerBackend
	if backend == "" {
		backend = LedgerFile
	}
	if backend != LedgerFile && backend != LedgerSQLite {
		addf("ledger_backend %q is not one of %q, %q", backend, LedgerFile, LedgerSQLite)
	}

	var bwLimit int64
	if f.BWLimit != "" {
		n, err := filter.ParseSize(f.BWLimit)
		if err != nil {
			addf("bwlimit: %v", err)
		}
		bwLimit = n
	}

	for _, pat := range f.Exclude {
		if err := filter.NewChain().AddExclude(pat); err != nil {
			addf("exclude %q: %v", pat, err)
		}
	}

	if len(f.Mappings) == 0 {
		addf("mappings must not be empty")
	}

	mappings := make([]Mapping, 0, len(f.Mappings))
	seenPairs := make(map[[2]string]int)
	seenNames := make(map[string]int)
	for i, mf := range f.Mappings {
		label := fmt.Sprintf("mappings[%d]", i)
		if mf.Source == "" || mf.Destination == "" {
			addf("%s: source and destination are required", label)
			continue
		}
		if !filepath.IsAbs(mf.Source) || !filepath.IsAbs(mf.Destination) {
			addf("%s: source %q and destination %q must be absolute", label, mf.Source, mf.Destination)
			continue
		}
		m := Mapping{
			Name:        mf.Name,
			Source:      filepath.Clean(mf.Source),
			Destination: filepath.Clean(mf.Destination),
		}

		if m.Source == m.Destination {
			addf("%s: source and destination are the same path %q", label, m.Source)
		} else if isUnder(m.Destination, m.Source) {
			addf("%s: destination %q is inside source %q", label, m.Destination, m.Source)
		} else if isUnder(m.Source, m.Destination) {
			addf("%s: source %q is inside destination %q", label, m.Source, m.Destination)
		}

		if dst.MountRoot != "" && isUnderOrEqual(m.Source, filepath.Clean(dst.MountRoot)) {
			addf("%s: source %q lies under the destination mount root %q", label, m.Source, dst.MountRoot)
		}
		if src.MountRoot != "" && isUnderOrEqual(m.Destination, filepath.Clean(src.MountRoot)) {
			addf("%s: destination %q lies under the source mount root %q", label, m.Destination, src.MountRoot)
		}

		pair := [2]string{m.Source, m.Destination}
		if prev, dup := seenPairs[pair]; dup {
			addf("%s: duplicates mappings[%d] (%s -> %s)", label, prev, m.Source, m.Destination)
		} else {
			seenPairs[pair] = i
		}

		name := m.DisplayName()
		if prev, dup := seenNames[name]; dup {
			addf("%s: display name %q already used by mappings[%d]; set a distinct name", label, name, prev)
		} else {
			seenNames[name] = i
		}

		mappings = append(mappings, m)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	stateDir := f.StateDir
	if stateDir == "" {
		stateDir = f.LogDir
	}
	rsyncPath := f.RsyncPath
	if rsyncPath == "" {
		rsyncPath = "rsync"
	}

	return &Topology{
		source:        src,
		destination:   dst,
		logDir:        f.LogDir,
		stateDir:      stateDir,
		ledgerBackend: backend,
		rsyncPath:     rsyncPath,
		bwLimit:       bwLimit,
		exclude:       slices.Clone(f.Exclude),
		mappings:      mappings,
	}, nil
}

func endpointFrom(ef EndpointFile) Endpoint {
	e := Endpoint{
		Name:            ef.Name,
		Address:         ef.Address,
		Share:           ef.Share,
		MountRoot:       ef.MountRoot,
		CredentialsFile: ef.CredentialsFile,
		MountOptions:    ef.MountOptions,
	}
	if e.MountRoot != "" {
		e.MountRoot = filepath.Clean(e.MountRoot)
	}
	for _, s := range ef.AuxShares {
		e.AuxShares = append(e.AuxShares, Share(s))
	}
	return e
}

func cloneEndpoint(e Endpoint) Endpoint {
	e.AuxShares = slices.Clone(e.AuxShares)
	return e
}

// isUnder reports whether path is strictly inside dir. Both must be clean.
func isUnder(path, dir string) bool {
	if dir == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func isUnderOrEqual(path, dir string) bool {
	return path == dir || isUnder(path, dir)
}

// relativeTo returns abs relative to root when abs is root or below it.
func relativeTo(root, abs string) (string, bool) {
	root = filepath.Clean(root)
	abs = filepath.Clean(abs)
	if !isUnderOrEqual(abs, root) {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	return rel, true
}
