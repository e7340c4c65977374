package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampLinesPrefixesEachLineNoTrailingStamp(t *testing.T) {
	assert := assert.New(t)

	out := timestampLines("hello\nworld\n", "TS ")
	lines := strings.Split(out, "\n")
	// Two content lines plus the empty tail left by the trailing \n.
	assert.Equal(3, len(lines))
	assert.True(strings.HasPrefix(lines[0], "TS "))
	assert.True(strings.HasPrefix(lines[1], "TS "))
	assert.Equal("", lines[2])
	assert.False(strings.HasSuffix(out, "TS "))
}

func TestTimestampLinesNormalizesCR(t *testing.T) {
	assert := assert.New(t)

	out := timestampLines("a\r\nb\r\n", "TS ")
	assert.Equal("TS a\nTS b\n", out)
}
