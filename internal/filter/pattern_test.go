package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternStar(t *testing.T) {
	p, err := compilePattern("*.log")
	require.NoError(t, err)

	assert.True(t, p.match("app.log", false))
	assert.True(t, p.match("dir/app.log", false))
	assert.False(t, p.match("app.log.bak", false))
	assert.False(t, p.match("app.txt", false))
}

func TestPatternDoubleStar(t *testing.T) {
	p, err := compilePattern("**/*.go")
	require.NoError(t, err)

	assert.True(t, p.match("main.go", false))
	assert.True(t, p.match("cmd/ferry/main.go", false))
	assert.False(t, p.match("main.txt", false))
}

func TestPatternAnchored(t *testing.T) {
	p, err := compilePattern("/root.txt")
	require.NoError(t, err)

	assert.True(t, p.match("root.txt", false))
	assert.False(t, p.match("sub/root.txt", false))
}

func TestPatternLiteralSpecials(t *testing.T) {
	p, err := compilePattern("#recycle/")
	require.NoError(t, err)
	assert.True(t, p.match("share/#recycle", true))

	p, err = compilePattern("a+b (1).txt")
	require.NoError(t, err)
	assert.True(t, p.match("a+b (1).txt", false))
	assert.False(t, p.match("aab (1).txt", false))
}

func TestPatternUnicode(t *testing.T) {
	p, err := compilePattern("Überweisung*.pdf")
	require.NoError(t, err)
	assert.True(t, p.match("docs/Überweisung-2020.pdf", false))
}

func TestPatternCharClass(t *testing.T) {
	p, err := compilePattern("file[0-9].txt")
	require.NoError(t, err)
	assert.True(t, p.match("file3.txt", false))
	assert.False(t, p.match("filex.txt", false))

	p, err = compilePattern("file[!0-9].txt")
	require.NoError(t, err)
	assert.True(t, p.match("filex.txt", false))
	assert.False(t, p.match("file3.txt", false))
}
