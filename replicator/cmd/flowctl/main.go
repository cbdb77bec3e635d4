package main

import (
	"os"

	"github.com/flowlake/flowlake/replicator/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
