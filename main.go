package main

import (
	"os"

	"github.com/jacklau/reposcout/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
