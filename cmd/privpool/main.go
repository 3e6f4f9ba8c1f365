package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the yaml configuration file",
	EnvVars: []string{"PRIVPOOL_CONFIG"},
}

func main() {
	app := cli.NewApp()
	app.Name = "privpool"
	app.Usage = "shielded pool wallet backend"
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []*cli.Command{
		serveCommand,
		deriveCommand,
		syncCommand,
		tokenCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
