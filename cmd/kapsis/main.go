package main

import (
	"os"

	"github.com/aviadshiber/kapsis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
