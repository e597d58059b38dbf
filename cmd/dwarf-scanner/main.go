package main

import (
	"os"

	"github.com/qwattash/cheri-dwarf-scanner/cmd/dwarf-scanner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
