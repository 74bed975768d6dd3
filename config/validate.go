package config

import (
	"fmt"
	"net"
	"sort"
)

// WarningKind classifies validator findings.
type WarningKind string

const (
	WarnEntityOverlap  WarningKind = "entity-overlap"
	WarnOverCapacity   WarningKind = "over-capacity"
	WarnChannelOverlap WarningKind = "channel-overlap"
	WarnUnreachable    WarningKind = "channel-unreachable"
	WarnBadIP          WarningKind = "bad-controller-ip"
	WarnIPConflict     WarningKind = "universe-ip-conflict"
)

// Warning is one validator finding. Findings never stop the gateway; they
// mark configurations that will drop or misroute channels at runtime.
type Warning struct {
	Kind     WarningKind
	Universe uint16
	Detail   string
}

func (w Warning) String() string {
	return fmt.Sprintf("universe %d: %s: %s", w.Universe, w.Kind, w.Detail)
}

// Report collects validator findings.
type Report struct {
	Warnings []Warning
}

// OK reports whether the configuration passed every check.
func (r *Report) OK() bool {
	return len(r.Warnings) == 0
}

func (r *Report) add(kind WarningKind, universe uint16, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Warning{
		Kind:     kind,
		Universe: universe,
		Detail:   fmt.Sprintf(format, args...),
	})
}

type claim struct {
	ids      map[uint16]int // id -> how many blocks claim it
	channels map[int]uint16 // channel -> id that claimed it first
	ips      []string
}

// Validate recomputes per-universe claims from the configuration blocks and
// reports entity overlaps, capacity overruns, channel clashes and unusable
// controller addresses. It works from Blocks rather than the expanded
// tables because map expansion already hides double claims.
func Validate(routing *Routing) *Report {
	report := &Report{}

	universes := make(map[uint16]*claim)

	ipSeen := make(map[uint16]map[string]bool)

	for _, b := range routing.Blocks {
		universe := uint16(b.Universe)
		c := universes[universe]
		if c == nil {
			c = &claim{
				ids:      make(map[uint16]int),
				channels: make(map[int]uint16),
			}
			universes[universe] = c
		}

		if !validControllerAddr(b.IP) {
			report.add(WarnBadIP, universe, "%q is not a valid controller address", b.IP)
		}
		if ipSeen[universe] == nil {
			ipSeen[universe] = make(map[string]bool)
		}
		if !ipSeen[universe][b.IP] {
			ipSeen[universe][b.IP] = true
			c.ips = append(c.ips, b.IP)
		}

		for j := 0; j < b.Count(); j++ {
			id := uint16(b.From + j)
			c.ids[id]++

			offset := b.Offset + j*3
			if offset+2 >= 512 {
				continue // reported below via the unreachable check
			}
			for ch := offset; ch <= offset+2; ch++ {
				owner, taken := c.channels[ch]
				if taken && owner != id {
					report.add(WarnChannelOverlap, universe,
						"channel %d claimed by entities %d and %d", ch, owner, id)
					break
				}
				c.channels[ch] = id
			}
		}
	}

	for _, universe := range sortedUniverses(universes) {
		c := universes[universe]

		var overlapped []uint16
		for id, n := range c.ids {
			if n > 1 {
				overlapped = append(overlapped, id)
			}
		}
		if len(overlapped) > 0 {
			sort.Slice(overlapped, func(i, j int) bool { return overlapped[i] < overlapped[j] })
			report.add(WarnEntityOverlap, universe,
				"%d entity ids claimed by more than one block (first: %d)",
				len(overlapped), overlapped[0])
		}

		if len(c.ids) > MaxEntitiesPerUniverse {
			report.add(WarnOverCapacity, universe,
				"%d entities mapped, capacity is %d", len(c.ids), MaxEntitiesPerUniverse)
		}

		if len(c.ips) > 1 {
			report.add(WarnIPConflict, universe,
				"mapped to %d different controllers %v", len(c.ips), c.ips)
		}
	}

	for _, b := range routing.Blocks {
		universe := uint16(b.Universe)
		unreachable := 0
		for j := 0; j < b.Count(); j++ {
			if b.Offset+j*3+2 >= 512 {
				unreachable++
			}
		}
		if unreachable > 0 {
			report.add(WarnUnreachable, universe,
				"%d entities of range %d-%d map beyond channel 511 and will never be sent",
				unreachable, b.From, b.To)
		}
	}

	return report
}

func sortedUniverses(m map[uint16]*claim) []uint16 {
	out := make([]uint16, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// validControllerAddr accepts a bare IP or an explicit "ip:port", the two
// forms the sender resolves.
func validControllerAddr(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	return net.ParseIP(host) != nil
}
