package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	// Local secrets (SMTP, documentation-system token) live in .env during
	// development; absence is fine.
	_ = godotenv.Load()

	root := &cli.Command{
		Name:                  "secpipe",
		Usage:                 "Run the DevSecOps pipeline and serve its run history",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			runCommand(),
			apiCommand(),
			scheduleCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
