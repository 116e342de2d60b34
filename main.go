package main

import (
	"os"

	"taskmaster/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
