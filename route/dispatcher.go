package route

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"ehub2artnet/artnet"
	"ehub2artnet/ehub"
	"ehub2artnet/logger"
	"ehub2artnet/store"
)

const (
	// DefaultInterval paces the send loop at 40 Hz, comfortably above
	// typical fixture refresh rates without flooding controllers.
	DefaultInterval = 25 * time.Millisecond

	// DefaultKeepalive bounds how long an unchanged universe goes without
	// a resend, so fixtures recover from a lost datagram.
	DefaultKeepalive = 2 * time.Second
)

// Stats is a point-in-time copy of the dispatcher counters.
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	FramesSent       uint64 `json:"frames_sent"`
	FramesSuppressed uint64 `json:"frames_suppressed"`
	SendErrors       uint64 `json:"send_errors"`
	UnroutedCycles   uint64 `json:"unrouted_cycles"`
	EntitiesSkipped  uint64 `json:"entities_skipped"`
	UpdatesApplied   uint64 `json:"updates_applied"`
	UpdatesDropped   uint64 `json:"updates_dropped"`
}

// Dispatcher connects the two halves of the gateway. As the receiver's
// message handler it applies decoded eHuB traffic to the store; as the
// send loop it snapshots the store on a fixed cadence and transmits the
// universes whose frames changed. The store is the only state the two
// sides share.
type Dispatcher struct {
	store    *store.Store
	sender   *artnet.Sender
	channels map[uint16]int
	log      *logger.Log

	interval  time.Duration
	keepalive time.Duration

	// Send-loop state, touched only from Run's goroutine.
	lastFrames   map[uint16]artnet.Frame
	lastSent     map[uint16]time.Time
	warnedNoDest map[uint16]bool
	warnedSkip   map[uint16]bool

	ticks            atomic.Uint64
	framesSent       atomic.Uint64
	framesSuppressed atomic.Uint64
	sendErrors       atomic.Uint64
	unroutedCycles   atomic.Uint64
	entitiesSkipped  atomic.Uint64
	updatesApplied   atomic.Uint64
	updatesDropped   atomic.Uint64
}

// New builds a dispatcher over an already-populated store. Non-positive
// interval and keepalive fall back to the defaults; keepalive may be
// disabled explicitly with a negative value.
func New(st *store.Store, sender *artnet.Sender, channels map[uint16]int, interval, keepalive time.Duration, log *logger.Log) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if keepalive == 0 {
		keepalive = DefaultKeepalive
	}

	return &Dispatcher{
		store:        st,
		sender:       sender,
		channels:     channels,
		log:          log,
		interval:     interval,
		keepalive:    keepalive,
		lastFrames:   make(map[uint16]artnet.Frame),
		lastSent:     make(map[uint16]time.Time),
		warnedNoDest: make(map[uint16]bool),
		warnedSkip:   make(map[uint16]bool),
	}
}

// HandleUpdate applies decoded color updates to the store. The white
// channel stops here: DMX output is RGB only.
func (d *Dispatcher) HandleUpdate(src *net.UDPAddr, msg *ehub.UpdateMessage) {
	updates := make([]store.Update, len(msg.Records))
	for i, rec := range msg.Records {
		updates[i] = store.Update{ID: rec.ID, R: rec.R, G: rec.G, B: rec.B}
	}

	applied := d.store.ApplyBatch(updates)
	d.updatesApplied.Add(uint64(applied))
	d.updatesDropped.Add(uint64(len(updates) - applied))
}

// HandleConfig upserts entity ranges, binding them to the eHuB universe
// tag carried in the message header.
func (d *Dispatcher) HandleConfig(src *net.UDPAddr, msg *ehub.ConfigMessage) {
	for _, r := range msg.Ranges {
		d.store.ApplyConfigRange(r.Start, r.Count, r.R, r.G, r.B, uint16(msg.Tag))
	}
}

// Run drives the send loop until ctx is canceled. Each tick snapshots the
// store, renders a frame per universe and transmits those whose bytes
// changed since the last send or whose keepalive lapsed. Resending
// identical frames is harmless, so the diff is purely a traffic reduction.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(time.Now())
		}
	}
}

func (d *Dispatcher) tick(now time.Time) {
	d.ticks.Add(1)

	for universe, entities := range d.store.SnapshotByUniverse() {
		frame, skipped := BuildFrame(entities, d.channels)
		if len(skipped) > 0 {
			d.entitiesSkipped.Add(uint64(len(skipped)))
			if !d.warnedSkip[universe] {
				d.warnedSkip[universe] = true
				d.log.With(logger.Fields{"universe": universe}).Warnf(
					"%d entities map beyond channel 511, first id %d", len(skipped), skipped[0])
			}
		}

		if !d.sender.HasDest(universe) {
			d.unroutedCycles.Add(1)
			if !d.warnedNoDest[universe] {
				d.warnedNoDest[universe] = true
				d.log.With(logger.Fields{"universe": universe}).Warn(
					"no controller address, universe excluded from output")
			}
			continue
		}

		last, sent := d.lastFrames[universe]
		unchanged := sent && last == frame
		due := d.keepalive > 0 && now.Sub(d.lastSent[universe]) >= d.keepalive
		if unchanged && !due {
			d.framesSuppressed.Add(1)
			continue
		}

		if err := d.sender.SendDMX(universe, frame); err != nil {
			// One unreachable controller must not stall the others.
			d.sendErrors.Add(1)
			d.log.With(logger.Fields{"universe": universe}).Errorf("send: %v", err)
			continue
		}

		d.lastFrames[universe] = frame
		d.lastSent[universe] = now
		d.framesSent.Add(1)
	}
}

// Stats returns a copy of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Ticks:            d.ticks.Load(),
		FramesSent:       d.framesSent.Load(),
		FramesSuppressed: d.framesSuppressed.Load(),
		SendErrors:       d.sendErrors.Load(),
		UnroutedCycles:   d.unroutedCycles.Load(),
		EntitiesSkipped:  d.entitiesSkipped.Load(),
		UpdatesApplied:   d.updatesApplied.Load(),
		UpdatesDropped:   d.updatesDropped.Load(),
	}
}
