package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env file is fine; the environment may be set by other means.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "insightsync",
		Usage: "Incrementally extract ads insights reports in time windows",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one sync of every configured stream",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:  "state",
				Usage: "Inspect or replace the persisted state of a stream",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the persisted state of a stream as JSON",
						Flags:  stateFlags(),
						Action: showState,
					},
					{
						Name:   "import",
						Usage:  "Validate a state file and persist it for a stream",
						Flags:  importFlags(),
						Action: importState,
					},
				},
			},
			{
				Name:   "remove",
				Usage:  "Remove the persisted state of a stream, forcing a full resync",
				Flags:  stateFlags(),
				Action: remove,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
