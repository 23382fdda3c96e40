package main

import (
	"os"

	"github.com/aeriedb/aerie/cmd/aeriectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
