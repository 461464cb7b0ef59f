package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath names the environment variable that overrides the default
// configuration file location.
const EnvConfigPath = "FERRY_CONFIG"

// DefaultFileName is the configuration file looked up next to the executable.
const DefaultFileName = "ferry.json"

// File is the on-disk configuration document. It is decoded once and turned
// into an immutable Topology by Build; nothing else reads it.
type File struct {
	Source        EndpointFile  `json:"source"         toml:"source"`
	Destination   EndpointFile  `json:"destination"    toml:"destination"`
	LogDir        string        `json:"log_dir"        toml:"log_dir"`
	StateDir      string        `json:"state_dir"      toml:"state_dir"`
	LedgerBackend string        `json:"ledger_backend" toml:"ledger_backend"`
	RsyncPath     string        `json:"rsync_path"     toml:"rsync_path"`
	BWLimit       string        `json:"bwlimit"        toml:"bwlimit"`
	Exclude       []string      `json:"exclude"        toml:"exclude"`
	Mappings      []MappingFile `json:"mappings"       toml:"mappings"`
}

// EndpointFile describes one side of the migration.
type EndpointFile struct {
	Name            string      `json:"name"             toml:"name"`
	Address         string      `json:"address"          toml:"address"`
	Share           string      `json:"share"            toml:"share"`
	MountRoot       string      `json:"mount_root"       toml:"mount_root"`
	CredentialsFile string      `json:"credentials_file" toml:"credentials_file"`
	MountOptions    string      `json:"mount_options"    toml:"mount_options"`
	AuxShares       []ShareFile `json:"aux_shares"       toml:"aux_shares"`
}

// ShareFile is an additional share mounted alongside an endpoint's main one.
type ShareFile struct {
	Share     string `json:"share"      toml:"share"`
	MountRoot string `json:"mount_root" toml:"mount_root"`
}

// MappingFile is a declared source -> destination directory pair.
type MappingFile struct {
	Name        string `json:"name"        toml:"name"`
	Source      string `json:"source"      toml:"source"`
	Destination string `json:"destination" toml:"destination"`
}

// ResolvePath returns the configuration file to load. An explicit flag value
// wins, then $FERRY_CONFIG, then ferry.json next to the running executable.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Load reads, decodes and validates the configuration at path. A missing file
// is an error.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

// Decode parses data as TOML when path ends in .toml and as JSON otherwise.
// Unknown JSON fields are rejected so typos surface at load time.
func Decode(path string, data []byte) (File, error) {
	var f File
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return File{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return File{}, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
		return f, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration (%d problems):", len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
