package filter

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeSuffixes = []struct { //nolint:gochecknoglobals // lookup table
	suffix string
	mult   int64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
	{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	{"B", 1},
}

// ParseSize parses a human-readable size such as "100", "512K", "1.5G" or
// "50MB" into bytes. Units are powers of 1024, matching rsync.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(s)
	num, mult := upper, int64(1)
	for _, sf := range sizeSuffixes {
		if strings.HasSuffix(upper, sf.suffix) {
			num, mult = strings.TrimSpace(upper[:len(upper)-len(sf.suffix)]), sf.mult
			break
		}
	}
	if num == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q is negative", s)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(f * float64(mult)), nil
}
