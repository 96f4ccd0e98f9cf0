package main

import (
	"os"

	"github.com/psantana5/machinist/cmd/machinist/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
