// Package ranging implements the session orchestration and fusion subsystem
// of the ranging service: the per-client session state machine, the UWB
// out-of-band configuration negotiator, and the multi-technology filter and
// fusion pipeline.
package ranging

import (
	"errors"
	"fmt"
)

// PeerId is an opaque 128-bit peer identifier, unique within a session.
type PeerId [16]byte

// String renders the peer id as hex for logging.
func (p PeerId) String() string {
	return fmt.Sprintf("%x", [16]byte(p))
}

// TechnologyTag is the closed set of supported ranging technologies.
// Declaration order is also fusion tie-break preference order.
type TechnologyTag uint8

const (
	TechUWB TechnologyTag = iota
	TechCS
	TechRTT
	TechRSSI
)

func (t TechnologyTag) String() string {
	switch t {
	case TechUWB:
		return "UWB"
	case TechCS:
		return "CS"
	case TechRTT:
		return "RTT"
	case TechRSSI:
		return "RSSI"
	default:
		return "Unknown"
	}
}

// Role is the local device's role in a ranging exchange.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "Initiator"
	}
	return "Responder"
}

// complement returns the role a peer must advertise to be compatible with r.
func (r Role) complement() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// SecurityLevel selects whether a UWB session is provisioned with a shared
// secret session key (Secure) or not (Basic).
type SecurityLevel uint8

const (
	SecurityBasic SecurityLevel = iota
	SecuritySecure
)

// RawMeasurement is the adapter-supplied sample: same shape as Measurement,
// without the filtered-state guarantees.
type RawMeasurement struct {
	Tech         TechnologyTag
	TimestampMs  uint64
	DistanceM    float64
	AzimuthRad   *float64
	ElevationRad *float64
	RssiDbm      *int16
	VelocityMS   *float64
	Confidence   *float64
	ErrorM       *float64
}

// Measurement is the filtered/fused sample handed to clients.
type Measurement struct {
	Tech         TechnologyTag
	TimestampMs  uint64
	DistanceM    float64
	AzimuthRad   *float64
	ElevationRad *float64
	RssiDbm      *int16
	VelocityMS   *float64
	Confidence   *float64
	ErrorM       *float64
}

// fromRaw copies a RawMeasurement's fields into a Measurement, allowing the
// filter stage to overwrite DistanceM/AzimuthRad/ElevationRad afterward.
func fromRaw(r RawMeasurement) Measurement {
	return Measurement{
		Tech:         r.Tech,
		TimestampMs:  r.TimestampMs,
		DistanceM:    r.DistanceM,
		AzimuthRad:   r.AzimuthRad,
		ElevationRad: r.ElevationRad,
		RssiDbm:      r.RssiDbm,
		VelocityMS:   r.VelocityMS,
		Confidence:   r.Confidence,
		ErrorM:       r.ErrorM,
	}
}

// UpdateRate is a closed enum of UWB ranging cadences; faster rates carry
// shorter defined intervals (see updateRateIntervalMs in oob.go).
type UpdateRate uint8

const (
	RateSlow UpdateRate = iota
	RateNormal
	RateFast
)

func (u UpdateRate) String() string {
	switch u {
	case RateSlow:
		return "Slow"
	case RateNormal:
		return "Normal"
	case RateFast:
		return "Fast"
	default:
		return "Unknown"
	}
}

// UwbConfigID is a closed enum selecting a FiRa-defined PHY/MAC profile.
type UwbConfigID uint8

const (
	ConfigUnicastDsTwrVeryFast UwbConfigID = iota
	ConfigProvisionedUnicastDsTwr
	ConfigUnicastDsTwr
	ConfigMulticastDsTwr
)

func (c UwbConfigID) String() string {
	switch c {
	case ConfigUnicastDsTwrVeryFast:
		return "UNICAST_DS_TWR_VERY_FAST"
	case ConfigProvisionedUnicastDsTwr:
		return "PROVISIONED_UNICAST_DS_TWR"
	case ConfigUnicastDsTwr:
		return "UNICAST_DS_TWR"
	case ConfigMulticastDsTwr:
		return "MULTICAST_DS_TWR"
	default:
		return "Unknown"
	}
}

// isProvisioned reports whether c carries a provisioned STS key, i.e. is
// usable under SecuritySecure.
func (c UwbConfigID) isProvisioned() bool {
	return c == ConfigUnicastDsTwrVeryFast || c == ConfigProvisionedUnicastDsTwr
}

// UwbCapabilities describes local or peer-advertised UWB capability.
type UwbCapabilities struct {
	ConfigIDs       []UwbConfigID
	Channels        []uint8
	PreambleIndexes []uint8
	MinIntervalMs   uint16
	SlotDurationsMs []uint8
	SupportsAoA     bool
	Roles           []Role
	SupportedRates  []UpdateRate // local-only: rates this stack can drive
}

func (c UwbCapabilities) supportsRole(r Role) bool {
	for _, x := range c.Roles {
		if x == r {
			return true
		}
	}
	return false
}

// PerTechnologyConfig carries the parameters for one started technology.
// Exactly one of the Uwb/Cs/Rtt/Rssi fields is populated, selected by Tech.
type PerTechnologyConfig struct {
	Tech TechnologyTag
	Uwb  *UwbParams
	Cs   *CsParams
	Rtt  *RttParams
	Rssi *RssiParams
}

// UwbParams are the negotiated or client-supplied parameters for a UWB
// TechnologyConfig.
type UwbParams struct {
	ConfigID       UwbConfigID
	Channel        uint8
	PreambleIndex  uint8
	SlotDurationMs uint8
	UpdateRate     UpdateRate
	IntervalMs     uint16
	Security       SecurityLevel
	SessionKey     *[16]byte
}

// CsParams are the Bluetooth Channel Sounding session parameters.
type CsParams struct {
	ServiceName string
	IntervalMs  uint16
}

// RttParams are the WiFi RTT over NAN session parameters.
type RttParams struct {
	ServiceName string
	IntervalMs  uint16
}

// RssiParams are the Bluetooth RSSI session parameters.
type RssiParams struct {
	IntervalMs uint16
}

// TechnologyConfig binds a PerTechnologyConfig to either one peer (Unicast)
// or a peer set sharing a single radio session (Multicast).
type TechnologyConfig struct {
	Multicast bool
	Peers     []PeerId
	Config    PerTechnologyConfig
}

// NotificationKind controls whether and how distance-threshold notifications
// are surfaced to the client.
type NotificationKind uint8

const (
	NotificationDisable NotificationKind = iota
	NotificationEnable
	NotificationProximity
)

// Notification describes the client's requested notification policy.
type Notification struct {
	Kind   NotificationKind
	NearCm uint32
	FarCm  uint32
}

// SessionConfig carries the policy knobs that apply across every technology
// in a session.
type SessionConfig struct {
	AngleOfArrivalNeeded bool
	SensorFusionEnabled  bool
	MeasurementLimit     uint32 // 0 = unlimited
	Notification         Notification
}

// DeviceHandle identifies a peer to discover during OOB negotiation.
type DeviceHandle struct {
	ID      PeerId
	Address [16]byte
}

// RawBundle supplies pre-built TechnologyConfigs directly (no OOB
// negotiation).
type RawBundle struct {
	Configs []TechnologyConfig
}

// OobBundle requests OOB peer discovery and UWB parameter negotiation before
// any adapter starts.
type OobBundle struct {
	Devices       []DeviceHandle
	FastestMs     uint16
	SlowestMs     uint16
	Security      SecurityLevel
	PeerCapsByDev map[PeerId]UwbCapabilities // discovered out-of-band, keyed by device
}

// SessionPreference is the client's declarative request to start a session.
type SessionPreference struct {
	Role   Role
	Config SessionConfig
	Raw    *RawBundle // mutually exclusive with Oob
	Oob    *OobBundle
}

// Availability is the Capability Registry's per-technology state.
type Availability uint8

const (
	AvailabilityNotSupported Availability = iota
	AvailabilityDisabled
	AvailabilityEnabled
	AvailabilitySystemError
	AvailabilityUserRestricted
)

func (a Availability) String() string {
	switch a {
	case AvailabilityNotSupported:
		return "NotSupported"
	case AvailabilityDisabled:
		return "Disabled"
	case AvailabilityEnabled:
		return "Enabled"
	case AvailabilitySystemError:
		return "SystemError"
	case AvailabilityUserRestricted:
		return "UserRestricted"
	default:
		return "Unknown"
	}
}

// SessionHandle uniquely identifies a live Session within the process.
type SessionHandle uint64

// CloseReason is the client-visible set of session/technology termination
// reasons (§7 of the design — adapter reasons are mapped down into this
// smaller set; see mapAdapterReason below).
type CloseReason uint8

const (
	ReasonLocalRequest CloseReason = iota
	ReasonNoPeersFound
	ReasonUnsupported
	ReasonSystemPolicy
	ReasonError
)

func (r CloseReason) String() string {
	switch r {
	case ReasonLocalRequest:
		return "LocalRequest"
	case ReasonNoPeersFound:
		return "NoPeersFound"
	case ReasonUnsupported:
		return "Unsupported"
	case ReasonSystemPolicy:
		return "SystemPolicy"
	case ReasonError:
		return "Error"
	default:
		return "Unknown"
	}
}

// AdapterCloseReason is the full set of reasons an Adapter (C1) may report
// through Closed. It is a superset of CloseReason; see mapAdapterReason.
type AdapterCloseReason uint8

const (
	AdapterLocalRequest AdapterCloseReason = iota
	AdapterFailedToStart
	AdapterLostConnection
	AdapterSystemPolicy
	AdapterError
)

func (r AdapterCloseReason) String() string {
	switch r {
	case AdapterLocalRequest:
		return "LocalRequest"
	case AdapterFailedToStart:
		return "FailedToStart"
	case AdapterLostConnection:
		return "LostConnection"
	case AdapterSystemPolicy:
		return "SystemPolicy"
	case AdapterError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Sentinel errors for the error taxonomy of §7.
var (
	ErrUnsupported       = errors.New("ranging: no technology can satisfy the preference")
	ErrAdapterStart      = errors.New("ranging: adapter failed to start")
	ErrAdapterLost       = errors.New("ranging: adapter lost connection")
	ErrTimeout           = errors.New("ranging: watchdog timeout")
	ErrInvalidArgument   = errors.New("ranging: invalid argument")
	ErrAlreadyStarted    = errors.New("ranging: adapter already started")
	ErrUnsupportedOp     = errors.New("ranging: operation unsupported by adapter")
	ErrSessionNotRunning = errors.New("ranging: session is not running")
	ErrQuotaExceeded     = errors.New("ranging: session quota exceeded")
	ErrUnknownHandle     = errors.New("ranging: unknown session handle")
)

// ConfigSelectionReason enumerates why the OOB Config Selector rejected a
// negotiation; it is carried by ConfigSelectionError.
type ConfigSelectionReason uint8

const (
	ReasonSecurityIncompatible ConfigSelectionReason = iota
	ReasonIntervalDisjoint
	ReasonRoleIncompatible
	ReasonNoCommonConfigID
	ReasonNoCommonChannel
	ReasonNoCommonPreamble
	ReasonAoaUnavailable
)

func (r ConfigSelectionReason) String() string {
	switch r {
	case ReasonSecurityIncompatible:
		return "SecurityIncompatible"
	case ReasonIntervalDisjoint:
		return "IntervalDisjoint"
	case ReasonRoleIncompatible:
		return "RoleIncompatible"
	case ReasonNoCommonConfigID:
		return "NoCommonConfigId"
	case ReasonNoCommonChannel:
		return "NoCommonChannel"
	case ReasonNoCommonPreamble:
		return "NoCommonPreamble"
	case ReasonAoaUnavailable:
		return "AoaUnavailable"
	default:
		return "Unknown"
	}
}

// ConfigSelectionError is returned by the OOB Config Selector on failure.
type ConfigSelectionError struct {
	Reason ConfigSelectionReason
}

func (e *ConfigSelectionError) Error() string {
	return fmt.Sprintf("ranging: config selection failed: %s", e.Reason)
}

// mapAdapterReason folds the wider adapter reason set down to the
// client-visible CloseReason set (§7, §9 Decisions). drainedPeerSet is true
// when this closure emptied the technology's active peer set.
func mapAdapterReason(r AdapterCloseReason, drainedPeerSet bool) CloseReason {
	switch r {
	case AdapterLocalRequest:
		return ReasonLocalRequest
	case AdapterFailedToStart:
		return ReasonUnsupported
	case AdapterLostConnection:
		if drainedPeerSet {
			return ReasonNoPeersFound
		}
		return ReasonError
	case AdapterSystemPolicy:
		return ReasonSystemPolicy
	default:
		return ReasonError
	}
}
