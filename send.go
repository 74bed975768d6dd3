package main

import (
	"context"
	"fmt"
	"net"

	"github.com/urfave/cli/v3"

	"ehub2artnet/artnet"
	"ehub2artnet/config"
	"ehub2artnet/ehub"
	"ehub2artnet/route"
	"ehub2artnet/store"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send a synthetic eHuB message to a gateway, or Art-Net straight to the controllers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Value: "127.0.0.1:5568", Usage: "gateway ingest address"},
			&cli.IntFlag{Name: "from", Usage: "first entity id"},
			&cli.IntFlag{Name: "to", Usage: "last entity id"},
			&cli.IntFlag{Name: "r", Usage: "red 0-255"},
			&cli.IntFlag{Name: "g", Usage: "green 0-255"},
			&cli.IntFlag{Name: "b", Usage: "blue 0-255"},
			&cli.IntFlag{Name: "w", Usage: "white 0-255 (carried, not routed)"},
			&cli.IntFlag{Name: "tag", Usage: "eHuB universe tag byte"},
			&cli.BoolFlag{Name: "as-config", Usage: "send one config range instead of per-entity updates"},
			&cli.BoolFlag{Name: "direct", Usage: "bypass the gateway: render frames from the routing table and transmit ArtDMX"},
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "routing configuration for --direct"},
		},
		Action: runSend,
	}
}

func runSend(ctx context.Context, c *cli.Command) error {
	from, to := c.Int("from"), c.Int("to")
	if from < 0 || to > 0xFFFF || from > to {
		return fmt.Errorf("bad entity id range %d-%d", from, to)
	}
	for _, name := range []string{"r", "g", "b", "w", "tag"} {
		if v := c.Int(name); v < 0 || v > 255 {
			return fmt.Errorf("--%s must be 0-255, got %d", name, v)
		}
	}

	if c.Bool("direct") {
		if c.Bool("as-config") {
			return fmt.Errorf("--as-config shapes gateway traffic and has no meaning with --direct")
		}
		return runSendDirect(c)
	}

	tag := uint8(c.Int("tag"))
	r, g, b, w := uint8(c.Int("r")), uint8(c.Int("g")), uint8(c.Int("b")), uint8(c.Int("w"))

	var datagram []byte
	var err error
	if c.Bool("as-config") {
		datagram, err = ehub.EncodeConfig(tag, []ehub.ConfigRange{{
			Start: uint16(from),
			Count: uint16(to - from + 1),
			R:     r, G: g, B: b, W: w,
		}})
	} else {
		records := make([]ehub.UpdateRecord, 0, to-from+1)
		for id := from; id <= to; id++ {
			records = append(records, ehub.UpdateRecord{ID: uint16(id), R: r, G: g, B: b, W: w})
		}
		datagram, err = ehub.EncodeUpdate(tag, records)
	}
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp4", c.String("target"))
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(datagram); err != nil {
		return err
	}

	fmt.Printf("sent %d bytes to %s (%d entities)\n", len(datagram), c.String("target"), to-from+1)
	return nil
}

// runSendDirect pushes a synthetic batch through the store and encoder and
// transmits the result itself, the bench-tool path for lighting fixtures
// without a running gateway. Entities outside from..to render black.
func runSendDirect(c *cli.Command) error {
	routing, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	st := store.New()
	for id, p := range routing.Entities {
		st.Register(id, p.Universe)
	}

	from, to := c.Int("from"), c.Int("to")
	r, g, b := uint8(c.Int("r")), uint8(c.Int("g")), uint8(c.Int("b"))
	updates := make([]store.Update, 0, to-from+1)
	for id := from; id <= to; id++ {
		updates = append(updates, store.Update{ID: uint16(id), R: r, G: g, B: b})
	}
	applied := st.ApplyBatch(updates)

	sender, err := artnet.NewSender(routing.UniverseIP)
	if err != nil {
		return err
	}
	defer sender.Close()

	sent := 0
	for universe, entities := range st.SnapshotByUniverse() {
		if !sender.HasDest(universe) {
			fmt.Printf("universe %d has no controller address, skipped\n", universe)
			continue
		}
		frame, skipped := route.BuildFrame(entities, routing.Channels)
		if len(skipped) > 0 {
			fmt.Printf("universe %d: %d entities map beyond channel 511\n", universe, len(skipped))
		}
		if err := sender.SendDMX(universe, frame); err != nil {
			return err
		}
		dest, _ := sender.Dest(universe)
		fmt.Printf("universe %d -> %s\n", universe, dest)
		sent++
	}

	fmt.Printf("applied %d of %d entities, lit %d universes\n", applied, len(updates), sent)
	return nil
}
