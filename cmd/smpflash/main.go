package main

import (
	"github.com/alecthomas/kong"

	"github.com/flashtools/smpflash/internal/cli"
)

func main() {
	var root cli.CLI
	ctx := kong.Parse(&root,
		kong.Name("smpflash"),
		kong.Description("Flash and manage firmware images over an MCUmgr serial connection."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&root))
}
