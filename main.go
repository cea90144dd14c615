package main

import (
	"os"

	"github.com/leftmike/kumo/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
