package main

import (
	"fmt"
	"os"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/cli/cmd"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/version"
)

// Populated at build time via -ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	version.Set(buildVersion, buildCommit, buildDate)

	a := cli.NewApp()
	if err := cmd.NewRootCommand(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
