package main

import (
	"os"

	"github.com/insightlabs/insight/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
