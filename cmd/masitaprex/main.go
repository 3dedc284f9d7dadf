package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/cli"
)

func main() {
	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
