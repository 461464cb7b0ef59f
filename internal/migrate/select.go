package migrate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bamsammich/ferry/internal/config"
)

// ErrInvalidSelection is returned when a selection argument names no mapping.
var ErrInvalidSelection = errors.New("invalid directory selection")

// Select narrows mappings to the ones named by args, each either a 1-based
// index or a display name. No args selects every mapping in declared order.
// Any unknown argument fails the whole selection.
func Select(mappings []config.Mapping, args []string) ([]config.Mapping, error) {
	if len(args) == 0 {
		return mappings, nil
	}

	byName := make(map[string]int, len(mappings))
	for i, m := range mappings {
		byName[m.DisplayName()] = i
	}

	var (
		selected []config.Mapping
		unknown  []string
		seen     = make(map[int]bool)
	)
	for _, arg := range args {
		idx, ok := lookup(arg, byName, len(mappings))
		if !ok {
			unknown = append(unknown, arg)
			continue
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		selected = append(selected, mappings[idx])
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s (available: %s)",
			ErrInvalidSelection, strings.Join(unknown, ", "), describe(mappings))
	}
	return selected, nil
}

func lookup(arg string, byName map[string]int, n int) (int, bool) {
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 1 || i > n {
			return 0, false
		}
		return i - 1, true
	}
	i, ok := byName[arg]
	return i, ok
}

func describe(mappings []config.Mapping) string {
	parts := make([]string, len(mappings))
	for i, m := range mappings {
		parts[i] = fmt.Sprintf("%d=%s", i+1, m.DisplayName())
	}
	return strings.Join(parts, " ")
}
