package main

import (
	"os"

	"github.com/tinkerbench/sketch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
