package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// MaxEntitiesPerUniverse is how many 3-channel fixtures fit in the 512
// channels of one DMX universe (170*3 = 510, channels 510-511 stay unused).
const MaxEntitiesPerUniverse = 170

// Block is one entry of the JSON routing configuration: a contiguous range
// of entity ids handled by one controller universe.
type Block struct {
	From     int    `json:"from"`
	To       int    `json:"to"`
	IP       string `json:"ip"`
	Universe int    `json:"universe"`

	// Offset is the DMX channel of the block's first entity. It defaults
	// to zero and exists so several blocks can share a universe without
	// claiming the same channels.
	Offset int `json:"offset,omitempty"`
}

// Count returns the number of entity ids the block claims.
func (b *Block) Count() int {
	return b.To - b.From + 1
}

// Placement locates one entity inside the Art-Net address space.
type Placement struct {
	Universe uint16
	Channel  int // 0-indexed DMX offset of the entity's red channel
}

// Routing holds the lookup tables expanded once from the configuration
// file. Only entity colors change at runtime; these tables never do.
type Routing struct {
	Blocks     []Block
	Entities   map[uint16]Placement
	UniverseIP map[uint16]string
	Channels   map[uint16]int
}

// Load reads and expands the routing configuration. Any error here is
// fatal: the gateway must not start routing a configuration it cannot
// trust. Overlaps and capacity overruns are not errors; Validate reports
// them separately.
func Load(path string) (*Routing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	r := &Routing{
		Blocks:     blocks,
		Entities:   make(map[uint16]Placement),
		UniverseIP: make(map[uint16]string),
		Channels:   make(map[uint16]int),
	}

	for i, b := range blocks {
		if b.From < 0 || b.From > 0xFFFF || b.To < 0 || b.To > 0xFFFF {
			return nil, fmt.Errorf("config: block %d: entity ids must be 0-65535", i)
		}
		if b.From > b.To {
			return nil, fmt.Errorf("config: block %d: from %d > to %d", i, b.From, b.To)
		}
		if b.Universe < 0 || b.Universe > 0xFFFF {
			return nil, fmt.Errorf("config: block %d: universe must be 0-65535", i)
		}
		if b.Offset < 0 {
			return nil, fmt.Errorf("config: block %d: negative channel offset", i)
		}

		universe := uint16(b.Universe)
		// Last writer wins when a universe appears under several IPs; the
		// validator reports the conflict.
		r.UniverseIP[universe] = b.IP

		for j := 0; j < b.Count(); j++ {
			id := uint16(b.From + j)
			offset := b.Offset + j*3
			r.Entities[id] = Placement{Universe: universe, Channel: offset}
			r.Channels[id] = offset
		}
	}

	return r, nil
}
