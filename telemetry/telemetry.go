// Package telemetry publishes gateway counters to an MQTT broker so
// installation dashboards can watch traffic without sniffing the wire.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ehub2artnet/logger"
)

// Snapshot produces the document published on each interval. It is called
// from the publisher's goroutine, so it must be safe to run concurrently
// with the rest of the gateway.
type Snapshot func() interface{}

// Config carries the broker settings. An empty Broker disables telemetry
// before a Publisher is ever built; callers check that themselves.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Interval time.Duration
	User     string
	Password string
}

// Publisher periodically publishes a JSON stats document to the broker.
type Publisher struct {
	cfg    Config
	log    *logger.Log
	client mqtt.Client
	done   chan struct{}
}

func New(cfg Config, log *logger.Log) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Publisher{cfg: cfg, log: log, done: make(chan struct{})}
}

// Start connects to the broker and begins publishing snapshots under
// topic/stats. It blocks until the first connect resolves so a bad broker
// address surfaces at startup rather than in the background; reconnects
// after that are handled by the client.
func (p *Publisher) Start(ctx context.Context, snapshot Snapshot) error {
	// Route paho's own connection logging to stdout when running at
	// debug level.
	if p.log.Level() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.User).
		SetPassword(p.cfg.Password).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			p.log.With(logger.Fields{"module": "mqtt"}).Info("connected to broker")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.With(logger.Fields{"module": "mqtt"}).Errorf("broker connection lost: %v", err)
		})

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return errors.New("telemetry: context canceled during connect")
	}

	go p.publishLoop(ctx, snapshot)
	return nil
}

func (p *Publisher) publishLoop(ctx context.Context, snapshot Snapshot) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	topic := p.cfg.Topic + "/stats"

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			payload, err := json.Marshal(snapshot())
			if err != nil {
				p.log.With(logger.Fields{"module": "mqtt"}).Errorf("marshal stats: %v", err)
				continue
			}
			// Retained, so a dashboard connecting late still sees the
			// most recent counters.
			token := p.client.Publish(topic, 0, true, payload)
			go func() {
				select {
				case <-ctx.Done():
				case <-token.Done():
					if token.Error() != nil {
						p.log.With(logger.Fields{"module": "mqtt"}).Errorf("publish %s: %v", topic, token.Error())
					}
				}
			}()
		}
	}
}

// Stop ends publishing and disconnects from the broker.
func (p *Publisher) Stop() {
	close(p.done)
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
