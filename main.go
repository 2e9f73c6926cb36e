package main

import (
	"os"

	"github.com/JSH-Team/vidcache/cmd"
)

// Version information set during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Set version information in cmd package
	cmd.SetVersion(Version, BuildTime, GitCommit)

	// Execute command
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
