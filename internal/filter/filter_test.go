package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyChainExcludesNothing(t *testing.T) {
	c := NewChain()
	assert.False(t, c.Excluded("any/file.txt", false))
	assert.False(t, c.Excluded("any/dir", true))

	var nilChain *Chain
	assert.False(t, nilChain.Excluded("x", false))
	assert.Empty(t, nilChain.RsyncArgs())
}

func TestJunkChain(t *testing.T) {
	c, err := NewJunkChain("*.part")
	require.NoError(t, err)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".DS_Store", false, true},
		{"Photos/2019/.DS_Store", false, true},
		{"Photos/._IMG_0001.jpg", false, true},
		{"Photos/Thumbs.db", false, true},
		{"Photos/@eaDir", true, true},
		{"Photos/@eaDir/IMG_0001.jpg/SYNOPHOTO_THUMB_M.jpg", false, true},
		{".ferry-partial/IMG_0002.jpg", false, true},
		{"movie.part", false, true},
		{"Photos/IMG_0001.jpg", false, false},
		{"Photos/@eaDir", false, false}, // dir-only pattern
		{"Photos/desktop.ini.bak", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Excluded(tt.path, tt.isDir))
		})
	}
}

func TestRsyncArgs(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("*.log"))
	require.NoError(t, c.AddExclude("cache/"))

	assert.Equal(t, []string{"--exclude=*.log", "--exclude=cache/"}, c.RsyncArgs())
	assert.Equal(t, 2, c.Len())
}

func TestAddExcludeRejectsEmpty(t *testing.T) {
	assert.Error(t, NewChain().AddExclude("  "))
}
