package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML values can be written as "25ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Settings are the operational knobs of the gateway, read from an optional
// TOML file. The routing table itself lives in the JSON file handled by
// Load; keeping the two apart lets lighting designers swap routing without
// touching tuning.
type Settings struct {
	Listen         string   `toml:"listen"`
	MulticastGroup string   `toml:"multicast-group"`
	MulticastIface string   `toml:"multicast-iface"`
	SendInterval   Duration `toml:"send-interval"`
	Keepalive      Duration `toml:"keepalive-interval"`
	LogLevel       string   `toml:"log-level"`

	MQTT MQTTSettings `toml:"mqtt"`
}

// MQTTSettings configure the optional stats publisher. An empty Broker
// disables it.
type MQTTSettings struct {
	Broker   string   `toml:"broker"`
	ClientID string   `toml:"client-id"`
	Topic    string   `toml:"topic"`
	Interval Duration `toml:"interval"`
	User     string   `toml:"user"`
	Password string   `toml:"password"`
}

// DefaultSettings returns the values used when no settings file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Listen:       ":5568",
		SendInterval: Duration{25 * time.Millisecond},
		Keepalive:    Duration{2 * time.Second},
		LogLevel:     "info",
		MQTT: MQTTSettings{
			ClientID: "ehub2artnet",
			Topic:    "ehub2artnet",
			Interval: Duration{5 * time.Second},
		},
	}
}

// LoadSettings decodes a TOML settings file over the defaults, so a file
// only needs the keys it changes.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("config: settings %s: %w", path, err)
	}
	if s.SendInterval.Duration <= 0 {
		return nil, fmt.Errorf("config: settings %s: send-interval must be positive", path)
	}
	if s.Keepalive.Duration < 0 {
		return nil, fmt.Errorf("config: settings %s: keepalive-interval must not be negative", path)
	}
	return s, nil
}
