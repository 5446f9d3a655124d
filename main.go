package main

import (
	"os"

	"github.com/avitobridge/avitobridge/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
