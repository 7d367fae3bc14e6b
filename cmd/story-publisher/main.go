package main

import (
	"os"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/story-publisher/internal/cli"
)

func main() {
	zlog.Init()

	if err := cli.NewRootCommand().Execute(); err != nil {
		zlog.Logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
