package ranging

import (
	"crypto/rand"
	"sort"
)

// ratesFastestFirst lists the UpdateRates fastest-first so selection can
// short-circuit on the first rate whose defined interval
// (updateRateIntervalMs, §4.4 step 5) falls in the intersected range.
//
//nolint:gochecknoglobals // fixed protocol constant table.
var ratesFastestFirst = []UpdateRate{RateFast, RateNormal, RateSlow}

func updateRateIntervalMs(r UpdateRate) uint16 {
	switch r {
	case RateFast:
		return 50
	case RateNormal:
		return 200
	case RateSlow:
		return 500
	default:
		return 200
	}
}

// hprfMin/bprfMin/bprfMax bound the FiRa preamble index bands used by the
// channel/preamble tie-break in §4.4 step 3. The HPRF band has no upper
// bound here: every index >= hprfMin counts as HPRF.
const (
	bprfMin = 9
	bprfMax = 24
	hprfMin = 25
)

// OobSelectionInput bundles everything the selector needs for one
// negotiation across all peers (§4.4).
type OobSelectionInput struct {
	Role           Role
	Config         SessionConfig
	FastestMs      uint16
	SlowestMs      uint16
	Security       SecurityLevel
	SlotCeilingMs  uint8
	Local          UwbCapabilities
	PeerCaps       map[PeerId]UwbCapabilities
	PeerOrder      []PeerId // stable iteration order for deterministic errors

	// DefaultRate is the Configuration default_update_rate (§6) used when no
	// rate in the protocol's defined table falls inside the negotiated
	// interval window. Its zero value is RateSlow, matching the prior
	// hardcoded fallback.
	DefaultRate UpdateRate
}

// OobSelectionResult is the selector's output: one local config plus one
// peer-facing config per peer, and whether every peer shares a single
// multicast session.
type OobSelectionResult struct {
	Multicast  bool
	Local      UwbParams
	PerPeer    map[PeerId]UwbParams
}

// SelectOobConfig runs the deterministic UWB OOB negotiation of §4.4 over
// in.Local and every peer in in.PeerCaps. It never silently drops a peer:
// any incompatibility fails the whole selection with a *ConfigSelectionError.
func SelectOobConfig(in OobSelectionInput) (OobSelectionResult, error) {
	peers := in.PeerOrder
	if len(peers) == 0 {
		for p := range in.PeerCaps {
			peers = append(peers, p)
		}
	}

	if in.Security == SecuritySecure && !hasProvisionedConfig(in.Local.ConfigIDs) {
		return OobSelectionResult{}, &ConfigSelectionError{Reason: ReasonSecurityIncompatible}
	}

	minMs := in.FastestMs
	maxMs := in.SlowestMs
	if in.Local.MinIntervalMs > minMs {
		minMs = in.Local.MinIntervalMs
	}
	for _, p := range peers {
		pc := in.PeerCaps[p]
		if pc.MinIntervalMs > minMs {
			minMs = pc.MinIntervalMs
		}
		if !pc.supportsRole(in.Role.complement()) {
			return OobSelectionResult{}, &ConfigSelectionError{Reason: ReasonRoleIncompatible}
		}
	}
	if minMs > maxMs {
		return OobSelectionResult{}, &ConfigSelectionError{Reason: ReasonIntervalDisjoint}
	}

	if in.Config.AngleOfArrivalNeeded && !in.Local.SupportsAoA {
		return OobSelectionResult{}, &ConfigSelectionError{Reason: ReasonAoaUnavailable}
	}

	configID, err := selectConfigID(in.Local, in.PeerCaps, peers, in.Security)
	if err != nil {
		return OobSelectionResult{}, err
	}

	channel, err := selectChannel(in.Local, in.PeerCaps, peers)
	if err != nil {
		return OobSelectionResult{}, err
	}

	preamble, err := selectPreamble(in.Local, in.PeerCaps, peers)
	if err != nil {
		return OobSelectionResult{}, err
	}

	slot := selectSlotDuration(in.Local, in.PeerCaps, peers, in.SlotCeilingMs)

	rate, intervalMs := selectRate(in.Local, minMs, maxMs, in.DefaultRate)

	var key [16]byte
	if in.Security == SecuritySecure {
		if _, err := rand.Read(key[:]); err != nil {
			return OobSelectionResult{}, err
		}
	}

	local := UwbParams{
		ConfigID:       configID,
		Channel:        channel,
		PreambleIndex:  preamble,
		SlotDurationMs: slot,
		UpdateRate:     rate,
		IntervalMs:     intervalMs,
		Security:       in.Security,
	}
	if in.Security == SecuritySecure {
		local.SessionKey = &key
	}

	perPeer := make(map[PeerId]UwbParams, len(peers))
	for _, p := range peers {
		params := local
		perPeer[p] = params
	}

	return OobSelectionResult{
		Multicast: configID == ConfigMulticastDsTwr,
		Local:     local,
		PerPeer:   perPeer,
	}, nil
}

func hasProvisionedConfig(ids []UwbConfigID) bool {
	for _, id := range ids {
		if id.isProvisioned() {
			return true
		}
	}
	return false
}

// mutualConfigIDs returns the config ids supported by local and every peer.
func mutualConfigIDs(local UwbCapabilities, peerCaps map[PeerId]UwbCapabilities, peers []PeerId) []UwbConfigID {
	localSet := make(map[UwbConfigID]bool, len(local.ConfigIDs))
	for _, id := range local.ConfigIDs {
		localSet[id] = true
	}
	var mutual []UwbConfigID
	for id := range localSet {
		supportedByAll := true
		for _, p := range peers {
			if !containsConfigID(peerCaps[p].ConfigIDs, id) {
				supportedByAll = false
				break
			}
		}
		if supportedByAll {
			mutual = append(mutual, id)
		}
	}
	return mutual
}

func containsConfigID(ids []UwbConfigID, target UwbConfigID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func selectConfigID(local UwbCapabilities, peerCaps map[PeerId]UwbCapabilities, peers []PeerId, sec SecurityLevel) (UwbConfigID, error) {
	mutual := mutualConfigIDs(local, peerCaps, peers)
	mutualSet := make(map[UwbConfigID]bool, len(mutual))
	for _, id := range mutual {
		mutualSet[id] = true
	}

	preferenceOrder := []UwbConfigID{
		ConfigUnicastDsTwrVeryFast,
		ConfigProvisionedUnicastDsTwr,
		ConfigUnicastDsTwr,
		ConfigMulticastDsTwr,
	}
	for _, id := range preferenceOrder {
		requiresSecure := id == ConfigUnicastDsTwrVeryFast || id == ConfigProvisionedUnicastDsTwr
		if requiresSecure && sec != SecuritySecure {
			continue
		}
		if sec == SecuritySecure && !id.isProvisioned() {
			continue
		}
		if mutualSet[id] {
			return id, nil
		}
	}
	return 0, &ConfigSelectionError{Reason: ReasonNoCommonConfigID}
}

func selectChannel(local UwbCapabilities, peerCaps map[PeerId]UwbCapabilities, peers []PeerId) (uint8, error) {
	mutual := mutualU8(local.Channels, peerCaps, peers, func(c UwbCapabilities) []uint8 { return c.Channels })
	if len(mutual) == 0 {
		return 0, &ConfigSelectionError{Reason: ReasonNoCommonChannel}
	}
	if contains8(mutual, 9) {
		return 9, nil
	}
	if contains8(mutual, 5) {
		return 5, nil
	}
	sort.Slice(mutual, func(i, j int) bool { return mutual[i] < mutual[j] })
	return mutual[0], nil
}

func selectPreamble(local UwbCapabilities, peerCaps map[PeerId]UwbCapabilities, peers []PeerId) (uint8, error) {
	mutual := mutualU8(local.PreambleIndexes, peerCaps, peers, func(c UwbCapabilities) []uint8 { return c.PreambleIndexes })
	if len(mutual) == 0 {
		return 0, &ConfigSelectionError{Reason: ReasonNoCommonPreamble}
	}

	var hprf, bprf []uint8
	for _, idx := range mutual {
		switch {
		case idx >= hprfMin:
			hprf = append(hprf, idx)
		case idx >= bprfMin && idx <= bprfMax:
			bprf = append(bprf, idx)
		}
	}
	if len(hprf) > 0 {
		sort.Slice(hprf, func(i, j int) bool { return hprf[i] < hprf[j] })
		return hprf[0], nil
	}
	if len(bprf) > 0 {
		sort.Slice(bprf, func(i, j int) bool { return bprf[i] < bprf[j] })
		return bprf[0], nil
	}
	return 0, &ConfigSelectionError{Reason: ReasonNoCommonPreamble}
}

func selectSlotDuration(local UwbCapabilities, peerCaps map[PeerId]UwbCapabilities, peers []PeerId, ceilingMs uint8) uint8 {
	mutual := mutualU8(local.SlotDurationsMs, peerCaps, peers, func(c UwbCapabilities) []uint8 { return c.SlotDurationsMs })
	var best uint8
	found := false
	for _, v := range mutual {
		if ceilingMs != 0 && v > ceilingMs {
			continue
		}
		if v > best {
			best = v
			found = true
		}
	}
	if !found {
		return 2
	}
	return best
}

func selectRate(local UwbCapabilities, minMs, maxMs uint16, defaultRate UpdateRate) (UpdateRate, uint16) {
	supported := local.SupportedRates
	if len(supported) == 0 {
		supported = ratesFastestFirst
	}
	supportedSet := make(map[UpdateRate]bool, len(supported))
	for _, r := range supported {
		supportedSet[r] = true
	}
	for _, r := range ratesFastestFirst {
		if !supportedSet[r] {
			continue
		}
		interval := updateRateIntervalMs(r)
		if interval >= minMs && interval <= maxMs {
			return r, interval
		}
	}
	// No rate in the defined table fits: fall back to the configured
	// Configuration default_update_rate (§6), clamped to the intersected
	// range's lower bound. This happens when the negotiated window (the
	// session's fastest/slowest bounds narrowed by the local and peer minimum
	// intervals) holds none of the defined intervals of the locally supported
	// rates.
	return defaultRate, minMs
}

func mutualU8(local []uint8, peerCaps map[PeerId]UwbCapabilities, peers []PeerId, get func(UwbCapabilities) []uint8) []uint8 {
	var mutual []uint8
	for _, v := range local {
		supportedByAll := true
		for _, p := range peers {
			if !contains8(get(peerCaps[p]), v) {
				supportedByAll = false
				break
			}
		}
		if supportedByAll {
			mutual = append(mutual, v)
		}
	}
	return mutual
}

func contains8(vals []uint8, target uint8) bool {
	for _, v := range vals {
		if v == target {
			return true
		}
	}
	return false
}
