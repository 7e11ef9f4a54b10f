package main

import (
	"fmt"
	"os"

	cmd "github.com/talk2jaydip/ingest-o-bot-sub001/cmd/ingestobot"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
