package main

import (
	"os"

	"github.com/weirdtangent/pulse-os/cmd/pulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
