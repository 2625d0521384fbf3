package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpods-org/webpods/core"
)

func TestSplitWritePath(t *testing.T) {
	streamPath, recordName, err := splitWritePath("/blog/2024/hello")
	assert.NoError(t, err)
	assert.Equal(t, "blog/2024", streamPath)
	assert.Equal(t, "hello", recordName)

	streamPath, recordName, err = splitWritePath("notes/first")
	assert.NoError(t, err)
	assert.Equal(t, "notes", streamPath)
	assert.Equal(t, "first", recordName)
}

func TestSplitWritePathSingleSegment(t *testing.T) {
	streamPath, recordName, err := splitWritePath("/blog")
	assert.NoError(t, err)
	assert.Equal(t, "blog", streamPath)
	assert.Empty(t, recordName)
}

func TestSplitWritePathNeedsStream(t *testing.T) {
	_, _, err := splitWritePath("/")
	assert.Equal(t, core.KindInvalidInput, core.AsError(err).Kind)

	_, _, err = splitWritePath("")
	assert.Equal(t, core.KindInvalidInput, core.AsError(err).Kind)
}
