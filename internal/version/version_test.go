package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "pointcloud dev (unknown, built unknown)", String())

	v, sha, built := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = v, sha, built })
	Version, GitSHA, BuildTime = "v0.3.0", "0123456789abcdef", "2024-08-12T09:00:00Z"
	assert.Equal(t, "pointcloud v0.3.0 (0123456, built 2024-08-12T09:00:00Z)", String())
}
