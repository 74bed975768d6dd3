package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"ehub2artnet/artnet"
	"ehub2artnet/logger"
)

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Scan the network for Art-Net controllers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Value: "255.255.255.255:6454", Usage: "poll destination, normally the broadcast address"},
			&cli.StringFlag{Name: "listen", Value: ":6454", Usage: "address replies arrive on"},
			&cli.DurationFlag{Name: "wait", Value: 3 * time.Second, Usage: "how long to collect replies"},
			&cli.StringFlag{Name: "log-level", Value: "warning", Usage: "log verbosity"},
		},
		Action: runDiscover,
	}
}

func runDiscover(ctx context.Context, c *cli.Command) error {
	log, err := logger.New(c.String("log-level"))
	if err != nil {
		return err
	}

	scanner, err := artnet.NewScanner(c.String("listen"), c.String("target"), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration("wait"))
	defer cancel()

	nodes, err := scanner.Run(ctx)
	if err != nil {
		return err
	}

	if len(nodes) == 0 {
		fmt.Println("no controllers answered")
		return nil
	}

	for _, n := range nodes {
		fmt.Printf("%-15s port %-5d %-18s universes %v\n", n.IP, n.Port, n.ShortName, n.Universes)
		if n.LongName != "" && n.LongName != n.ShortName {
			fmt.Printf("                %s\n", n.LongName)
		}
	}
	return nil
}
