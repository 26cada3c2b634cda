package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rankwatch",
		Usage: "track PageSpeed and AI-answer citation signals as time-stamped snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite path (overrides SNAPSHOT_DB)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error (overrides LOG_LEVEL)"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			snapshotCommand(),
			rotateCommand(),
			listCommand(),
			showCommand(),
			exportCommand(),
			gscNormalizeCommand(),
		},
	}
}
