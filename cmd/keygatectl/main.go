package main

import (
	"fmt"
	"os"

	"keygate/cmd/keygatectl/cli"

	"github.com/joho/godotenv"
)

// Set via -ldflags at build time
var version = "dev"

func main() {
	_ = godotenv.Load() // .env is optional
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
