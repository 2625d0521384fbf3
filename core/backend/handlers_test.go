package backend

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/webpods-org/webpods/core"
)

func TestParseIndexQuerySingle(t *testing.T) {
	index, err := parseIndexQuery("5")
	assert.NoError(t, err)
	assert.False(t, index.isRange)
	assert.Equal(t, 5, index.single)

	index, err = parseIndexQuery("-1")
	assert.NoError(t, err)
	assert.Equal(t, -1, index.single)
}

func TestParseIndexQueryRange(t *testing.T) {
	index, err := parseIndexQuery("2:10")
	assert.NoError(t, err)
	assert.True(t, index.isRange)
	assert.Equal(t, 2, index.from)
	assert.Equal(t, 10, index.to)

	index, err = parseIndexQuery("-10:-1")
	assert.NoError(t, err)
	assert.Equal(t, -10, index.from)
	assert.Equal(t, -1, index.to)
}

func TestParseIndexQueryRejectsGarbage(t *testing.T) {
	for _, value := range []string{"abc", "1:b", ":", "1:2:3"} {
		_, err := parseIndexQuery(value)
		assert.Error(t, err, value)
	}
}

func TestHostName(t *testing.T) {
	assert.Equal(t, "example.com", hostName("example.com"))
	assert.Equal(t, "example.com", hostName("example.com:8080"))
	assert.Equal(t, "alice.example.com", hostName("alice.example.com:443"))
}

func TestMatchPodHost(t *testing.T) {
	b := &Backend{config: backendConfiguration{Host: "webpods.io"}}

	r := httptest.NewRequest("GET", "http://alice.webpods.io/notes", nil)
	match := &mux.RouteMatch{}
	assert.True(t, b.matchPodHost(r, match))
	assert.Equal(t, "alice", match.Vars["pod"])

	// the main host is not a pod host
	r = httptest.NewRequest("GET", "http://webpods.io/pods", nil)
	assert.False(t, b.matchPodHost(r, &mux.RouteMatch{}))
	assert.True(t, b.matchMainHost(r, nil))

	// nested subdomains are not valid pod names
	r = httptest.NewRequest("GET", "http://a.b.webpods.io/", nil)
	assert.False(t, b.matchPodHost(r, &mux.RouteMatch{}))

	// ports are ignored
	r = httptest.NewRequest("GET", "http://alice.webpods.io:8080/notes", nil)
	r.Host = "alice.webpods.io:8080"
	match = &mux.RouteMatch{}
	assert.True(t, b.matchPodHost(r, match))
	assert.Equal(t, "alice", match.Vars["pod"])
}

func TestCollapseUnique(t *testing.T) {
	records := []*Record{
		{Index: 0, Name: "a", Content: "first"},
		{Index: 1, Name: "b", Content: "only"},
		{Index: 2, Name: "a", Content: "second"},
		{Index: 3, Name: "c", Content: "gone", Deleted: true},
	}
	unique := collapseUnique(records)
	assert.Len(t, unique, 2)
	assert.Equal(t, "b", unique[0].Name)
	assert.Equal(t, "a", unique[1].Name)
	assert.Equal(t, "second", unique[1].Content)
}

func TestProjectListResultFieldsAndTruncate(t *testing.T) {
	result := &ListResult{
		Records: []map[string]interface{}{
			{"name": "a", "content": "hello world", "hash": "h1"},
		},
		Total: 1,
	}
	projected := projectListResult(result, ListOptions{Fields: []string{"name", "content"}, Truncate: 5})
	assert.Equal(t, map[string]interface{}{"name": "a", "content": "hello"}, projected.Records[0])
	// the original is untouched
	assert.Equal(t, "hello world", result.Records[0]["content"])
}

func TestNormalizeContentCanonicalizesJSON(t *testing.T) {
	stored, isBinary, size, err := normalizeContent([]byte(`{ "b": 1,   "a": 2 }`), "application/json")
	assert.NoError(t, err)
	assert.False(t, isBinary)
	assert.Equal(t, int64(20), size)
	assert.JSONEq(t, `{"a":2,"b":1}`, stored)

	_, _, _, err = normalizeContent([]byte("{broken"), "application/json")
	assert.Equal(t, core.KindInvalidInput, core.AsError(err).Kind)
}

func TestNormalizeContentBinaryIsBase64(t *testing.T) {
	stored, isBinary, size, err := normalizeContent([]byte{0x00, 0x01, 0x02}, "application/octet-stream")
	assert.NoError(t, err)
	assert.True(t, isBinary)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, "AAEC", stored)
}

func TestExtensionForContentType(t *testing.T) {
	assert.Equal(t, "json", extensionForContentType("application/json; charset=utf-8"))
	assert.Equal(t, "png", extensionForContentType("image/png"))
	assert.Equal(t, "bin", extensionForContentType("application/octet-stream"))
	assert.Equal(t, "csv", extensionForContentType("text/csv"))
}
