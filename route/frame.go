// Package route turns entity state into outbound DMX traffic: it renders
// per-universe frames from store snapshots and runs the change-diffing
// send loop between the eHuB receiver and the Art-Net sender.
package route

import (
	"ehub2artnet/artnet"
	"ehub2artnet/config"
	"ehub2artnet/store"
)

// BuildFrame renders entities into a 512-channel DMX frame using the
// channel table, falling back to (id mod 170) * 3 for entities the table
// does not place. Entities whose 3-channel span would cross the end of the
// frame are left out and their ids returned so the caller can report them;
// the frame itself never sees an out-of-bounds write.
func BuildFrame(entities []store.Entity, channels map[uint16]int) (artnet.Frame, []uint16) {
	var frame artnet.Frame
	var skipped []uint16

	for _, e := range entities {
		offset, ok := channels[e.ID]
		if !ok {
			offset = (int(e.ID) % config.MaxEntitiesPerUniverse) * 3
		}
		if offset < 0 || offset+2 >= artnet.FrameLen {
			skipped = append(skipped, e.ID)
			continue
		}
		frame[offset] = e.R
		frame[offset+1] = e.G
		frame[offset+2] = e.B
	}

	return frame, skipped
}

// BuildPacket renders entities and wraps the frame in an ArtDMX datagram.
// Preview and test tooling use it to drive controllers directly, without
// standing up a dispatcher.
func BuildPacket(universe uint16, entities []store.Entity, channels map[uint16]int) ([]byte, []uint16) {
	frame, skipped := BuildFrame(entities, channels)
	return artnet.BuildDMXPacket(universe, frame), skipped
}
