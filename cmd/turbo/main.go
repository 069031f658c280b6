package main

import (
	"os"

	"github.com/turbocache/turbo/internal/cmd"
)

// turboVersion is stamped at build time via -ldflags; it defaults to "dev"
// for local builds run straight from source.
var turboVersion = "dev"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], turboVersion))
}
