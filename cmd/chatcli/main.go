package main

import (
	"os"

	"github.com/chatsync/internal/cli"
	"github.com/chatsync/internal/logger"
)

func main() {
	logger.SetPrefix("chatcli")
	if err := cli.NewRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
