package main

import (
	"github.com/poriamsz55/distork-cli/cmd"
	"github.com/poriamsz55/distork-cli/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
