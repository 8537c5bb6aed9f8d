package main

import (
	"os"

	"github.com/agrovault/notify/cmd/notifyd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
