package main

import (
	"os"

	"marketdash/cmd/dashctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
