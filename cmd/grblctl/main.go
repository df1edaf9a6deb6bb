package main

import (
	"fmt"
	"os"

	"github.com/professor93/grblctl/internal/cli"
)

// Set with -ldflags "-X main.version=..." at build time.
var (
	version   = "1.0.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	build := cli.BuildInfo{Version: version, BuildTime: buildTime, GitCommit: gitCommit}
	if err := cli.Execute(build); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
