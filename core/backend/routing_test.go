package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyRoutesLongestPrefixWins(t *testing.T) {
	table := map[string]string{
		"/":          "/home",
		"/blog":      "/posts",
		"/blog/2024": "/posts/archive",
	}
	assert.Equal(t, "/posts/archive/january", applyRoutes(table, "/blog/2024/january"))
	assert.Equal(t, "/posts/latest", applyRoutes(table, "/blog/latest"))
	assert.Equal(t, "/posts", applyRoutes(table, "/blog"))
}

func TestApplyRoutesMatchesWholeSegments(t *testing.T) {
	table := map[string]string{"/blog": "/posts"}
	assert.Equal(t, "/blogging", applyRoutes(table, "/blogging"))
}

func TestApplyRoutesNoMatchKeepsPath(t *testing.T) {
	table := map[string]string{"/blog": "/posts"}
	assert.Equal(t, "/about", applyRoutes(table, "/about"))
	assert.Equal(t, "/about", applyRoutes(nil, "/about"))
}

func TestApplyRoutesIsAppliedOnce(t *testing.T) {
	// a route targeting another route's prefix must not chain
	table := map[string]string{
		"/a": "/b",
		"/b": "/c",
	}
	assert.Equal(t, "/b/x", applyRoutes(table, "/a/x"))
}

func TestApplyRoutesNormalizesTarget(t *testing.T) {
	table := map[string]string{"/old": "new/place"}
	assert.Equal(t, "/new/place/file", applyRoutes(table, "/old/file"))
}
