package main

import (
	"os"

	"github.com/woodchen-ink/OVH/internal/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
