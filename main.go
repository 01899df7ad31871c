package main

import (
	"os"

	"github.com/wesheets/promethios-sub018/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
