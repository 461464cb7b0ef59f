package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledPattern is an rsync-style glob compiled to a regexp.
type compiledPattern struct {
	re       *regexp.Regexp
	original string
	anchored bool // leading / or an inner /
	dirOnly  bool // trailing /
}

func compilePattern(pattern string) (*compiledPattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	cp := &compiledPattern{original: pattern}

	body := pattern
	if strings.HasSuffix(body, "/") {
		cp.dirOnly = true
		body = strings.TrimSuffix(body, "/")
	}
	if strings.HasPrefix(body, "/") {
		cp.anchored = true
		body = strings.TrimPrefix(body, "/")
	} else if strings.Contains(body, "/") {
		cp.anchored = true
	}

	expr := globToRegex(body)
	if cp.anchored {
		expr = "^" + expr + "$"
	} else {
		expr = "(^|/)" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	cp.re = re
	return cp, nil
}

func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	return cp.re.MatchString(relPath)
}

// globToRegex translates *, **, ? and [...] classes; everything else is
// matched literally.
//
//nolint:gocyclo,revive // cognitive-complexity: character-by-character glob parser
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); {
		c := glob[i]
		switch {
		case c == '*' && strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(.*/)?")
			i += 3
		case c == '*' && strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i += 2
		case c == '*':
			b.WriteString("[^/]*")
			i++
		case c == '?':
			b.WriteString("[^/]")
			i++
		case c == '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				i++
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 2
		default:
			j := i + 1
			for j < len(glob) && !strings.ContainsRune("*?[", rune(glob[j])) {
				j++
			}
			b.WriteString(regexp.QuoteMeta(glob[i:j]))
			i = j
		}
	}
	return b.String()
}
