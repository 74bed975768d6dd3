package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"ehub2artnet/config"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate a routing configuration without starting the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "routing configuration (JSON)"},
			&cli.BoolFlag{Name: "strict", Usage: "exit non-zero when the validator reports warnings"},
		},
		Action: runCheck,
	}
}

func runCheck(ctx context.Context, c *cli.Command) error {
	routing, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	fmt.Printf("%d blocks, %d entities, %d universes\n",
		len(routing.Blocks), len(routing.Entities), len(routing.UniverseIP))

	counts := make(map[uint16]int)
	for _, p := range routing.Entities {
		counts[p.Universe]++
	}

	universes := make([]int, 0, len(routing.UniverseIP))
	for u := range routing.UniverseIP {
		universes = append(universes, int(u))
	}
	sort.Ints(universes)

	for _, u := range universes {
		fmt.Printf("  universe %3d -> %-21s %3d/%d entities\n",
			u, routing.UniverseIP[uint16(u)], counts[uint16(u)], config.MaxEntitiesPerUniverse)
	}

	report := config.Validate(routing)
	if report.OK() {
		fmt.Println("configuration OK")
		return nil
	}

	for _, w := range report.Warnings {
		fmt.Println("warning:", w)
	}
	if c.Bool("strict") {
		return fmt.Errorf("%d warnings", len(report.Warnings))
	}
	return nil
}
