package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "ehub2artnet",
		Usage: "eHuB to Art-Net gateway for LED wall installations",
		Commands: []*cli.Command{
			serveCommand(),
			checkCommand(),
			sendCommand(),
			sniffCommand(),
			discoverCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}
