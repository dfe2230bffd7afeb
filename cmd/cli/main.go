package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/naka0519/TownReady/cmd/cli/commands"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
