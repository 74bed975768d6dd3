package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"ehub2artnet/ehub"
)

func sniffCommand() *cli.Command {
	return &cli.Command{
		Name:  "sniff",
		Usage: "Capture and decode eHuB traffic on an interface (needs root)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "iface", Value: "eth0", Usage: "interface to capture on"},
			&cli.IntFlag{Name: "port", Value: ehub.Port, Usage: "UDP port to filter"},
			&cli.BoolFlag{Name: "records", Usage: "print individual records, not just summaries"},
		},
		Action: runSniff,
	}
}

// sniffPrinter dumps decoded traffic to stdout.
type sniffPrinter struct {
	records bool
}

func (p *sniffPrinter) HandleUpdate(src *net.UDPAddr, msg *ehub.UpdateMessage) {
	fmt.Printf("%s update tag=%d records=%d\n", src, msg.Tag, len(msg.Records))
	if p.records {
		for _, rec := range msg.Records {
			fmt.Printf("  id=%d rgb=(%d,%d,%d) w=%d\n", rec.ID, rec.R, rec.G, rec.B, rec.W)
		}
	}
}

func (p *sniffPrinter) HandleConfig(src *net.UDPAddr, msg *ehub.ConfigMessage) {
	fmt.Printf("%s config tag=%d ranges=%d\n", src, msg.Tag, len(msg.Ranges))
	if p.records {
		for _, r := range msg.Ranges {
			fmt.Printf("  start=%d count=%d rgb=(%d,%d,%d) w=%d\n", r.Start, r.Count, r.R, r.G, r.B, r.W)
		}
	}
}

func runSniff(ctx context.Context, c *cli.Command) error {
	receiver, err := ehub.NewPcapReceiver(c.String("iface"), int(c.Int("port")),
		&sniffPrinter{records: c.Bool("records")})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receiver.Start()
	defer receiver.Stop()

	fmt.Printf("capturing eHuB on %s, udp port %d\n", c.String("iface"), c.Int("port"))
	<-ctx.Done()
	return nil
}
