package main

import (
	"os"

	"github.com/go-delve/gdbstub/cmd/gdbstub/cmds"
	"github.com/go-delve/gdbstub/pkg/version"
)

// Build is the git sha of this binary's source.
var Build string

func main() {
	if Build != "" {
		version.StubVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
