package main

import (
	"os"

	"github.com/klynaa/realtime/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
