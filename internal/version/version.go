// Package version carries build metadata set with -ldflags, for example
//
//	go build -ldflags "-X github.com/banshee-data/pointcloud.report/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the metadata for logs and -version.
func String() string {
	sha := GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("pointcloud %s (%s, built %s)", Version, sha, BuildTime)
}
