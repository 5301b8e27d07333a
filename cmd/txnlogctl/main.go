package main

import (
	"os"

	"github.com/ondisk/tablexn/internal/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
