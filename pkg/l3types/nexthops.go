// SPDX-License-Identifier: Apache-2.0
package l3types

import "sort"

// CanonicalizeNexthops sorts and deduplicates a nexthop set so it can be
// used as a stable map key (EcmpHost's "canonical nexthop set"). The input
// is not mutated.
func CanonicalizeNexthops(in []Nexthop) []Nexthop {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Nexthop]struct{}, len(in))
	out := make([]Nexthop, 0, len(in))
	for _, nh := range in {
		if _, ok := seen[nh]; ok {
			continue
		}
		seen[nh] = struct{}{}
		out = append(out, nh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Intf != out[j].Intf {
			return out[i].Intf < out[j].Intf
		}
		return out[i].Nexthop.Compare(out[j].Nexthop) < 0
	})
	return out
}

// NexthopSetKey renders a canonicalized nexthop set into a comparable map
// key (Go maps cannot be keyed directly on slices).
func NexthopSetKey(nhops []Nexthop) string {
	// Nexthops are already canonicalized by the caller (IncRefOrCreateEcmpHost),
	// so simple concatenation is a stable, collision-free key.
	buf := make([]byte, 0, len(nhops)*24)
	for _, nh := range nhops {
		buf = append(buf, []byte(nh.String())...)
		buf = append(buf, ';')
	}
	return string(buf)
}
