package techdetect

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectWordPress(t *testing.T) {
	detector, err := New()
	require.NoError(t, err)

	body := []byte(`<html><head>
		<meta name="generator" content="WordPress 6.4" />
		<link rel="stylesheet" href="/wp-content/themes/site/style.css" />
	</head><body><div class="entry-content">text</div></body></html>`)

	result := detector.Detect(http.Header{}, body)
	require.NotNil(t, result)

	_, found := result.Technologies["WordPress"]
	assert.True(t, found, "expected WordPress fingerprint, got %v", result.Technologies)
	assert.Contains(t, result.ContentContainers(), ".entry-content")
}

func TestContentContainersUnknownTech(t *testing.T) {
	result := &Result{Technologies: map[string][]string{
		"Cloudflare": {"CDN"},
		"jQuery":     {"JavaScript libraries"},
	}}
	assert.Empty(t, result.ContentContainers())
}

func TestContentContainersNilResult(t *testing.T) {
	var result *Result
	assert.Nil(t, result.ContentContainers())
}
