package browser

import (
	"testing"

	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
)

func TestImagePresent(t *testing.T) {
	images := []image.Summary{
		{RepoTags: []string{"alpine:3.20", "alpine:latest"}},
		{RepoTags: []string{"browserless/chrome:latest"}},
		{RepoTags: nil}, // dangling image
	}

	assert.True(t, imagePresent(images, "browserless/chrome:latest"))
	assert.True(t, imagePresent(images, "alpine:latest"))
	assert.False(t, imagePresent(images, "browserless/chrome:1.61"))
	assert.False(t, imagePresent(nil, "browserless/chrome:latest"))
}
