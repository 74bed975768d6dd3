package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"ehub2artnet/artnet"
	"ehub2artnet/config"
	"ehub2artnet/ehub"
	"ehub2artnet/logger"
	"ehub2artnet/route"
	"ehub2artnet/store"
	"ehub2artnet/telemetry"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the gateway: receive eHuB updates, emit Art-Net DMX",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "routing configuration (JSON)"},
			&cli.StringFlag{Name: "settings", Usage: "settings file (TOML), defaults apply when omitted"},
			&cli.StringFlag{Name: "listen", Usage: "override the ingest address (host:port)"},
			&cli.StringFlag{Name: "log-level", Usage: "override the log level"},
		},
		Action: runServe,
	}
}

// gatewayStats is the telemetry document published to the broker.
type gatewayStats struct {
	Receiver   ehub.ReceiverStats `json:"receiver"`
	Dispatcher route.Stats        `json:"dispatcher"`
	Entities   int                `json:"entities"`
}

func runServe(ctx context.Context, c *cli.Command) error {
	settings := config.DefaultSettings()
	if path := c.String("settings"); path != "" {
		s, err := config.LoadSettings(path)
		if err != nil {
			return err
		}
		settings = s
	}
	if v := c.String("listen"); v != "" {
		settings.Listen = v
	}
	if v := c.String("log-level"); v != "" {
		settings.LogLevel = v
	}

	log, err := logger.New(settings.LogLevel)
	if err != nil {
		return err
	}

	routing, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log.With(logger.Fields{
		"blocks":    len(routing.Blocks),
		"entities":  len(routing.Entities),
		"universes": len(routing.UniverseIP),
	}).Info("routing loaded")

	// Routing problems are worth shouting about but must not stop the
	// show; the dispatcher skips what it cannot deliver.
	if report := config.Validate(routing); !report.OK() {
		for _, w := range report.Warnings {
			log.Warn(w.String())
		}
	}

	st := store.New()
	for id, p := range routing.Entities {
		st.Register(id, p.Universe)
	}

	sender, err := artnet.NewSender(routing.UniverseIP)
	if err != nil {
		return err
	}
	defer sender.Close()

	dispatcher := route.New(st, sender, routing.Channels,
		settings.SendInterval.Duration, settings.Keepalive.Duration, log)

	receiver, err := ehub.NewReceiver(settings.Listen, settings.MulticastGroup,
		settings.MulticastIface, dispatcher, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receiver.Start()
	defer receiver.Stop()
	log.With(logger.Fields{"listen": receiver.LocalAddr().String()}).Info("gateway running")

	if settings.MQTT.Broker != "" {
		pub := telemetry.New(telemetry.Config{
			Broker:   settings.MQTT.Broker,
			ClientID: settings.MQTT.ClientID,
			Topic:    settings.MQTT.Topic,
			Interval: settings.MQTT.Interval.Duration,
			User:     settings.MQTT.User,
			Password: settings.MQTT.Password,
		}, log)
		if err := pub.Start(ctx, func() interface{} {
			return gatewayStats{
				Receiver:   receiver.Stats(),
				Dispatcher: dispatcher.Stats(),
				Entities:   st.Len(),
			}
		}); err != nil {
			return err
		}
		defer pub.Stop()
	}

	dispatcher.Run(ctx)

	stats := dispatcher.Stats()
	log.With(logger.Fields{
		"frames_sent": stats.FramesSent,
		"send_errors": stats.SendErrors,
	}).Info("shutdown complete")
	return nil
}
