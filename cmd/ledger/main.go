package main

import (
	"os"

	"github.com/dvloznov/sheet-ledger/internal/commands"
)

func main() {
	if err := commands.NewRootCommand(commands.AppLoader).Execute(); err != nil {
		os.Exit(1)
	}
}
