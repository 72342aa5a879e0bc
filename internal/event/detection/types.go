package detection

import "strings"

// RiskLevel is the ordinal severity attached to every detection and tracker
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel maps a raw string onto a known risk level.
// Unknown values degrade to RiskLow.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskLow
	}
}

// Valid reports whether r is one of the four known tiers
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank returns 0 (low) through 3 (critical). Unknown levels rank as low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// Method tags the in-page technique a detection refers to
type Method string

const (
	MethodCanvasFingerprint Method = "canvas-fingerprint"
	MethodStorageAccess     Method = "storage-access"
	MethodMouseTracking     Method = "mouse-tracking"
	MethodFormMonitoring    Method = "form-monitoring"
	MethodDeviceAPI         Method = "device-api"
	MethodWebRTCLeak        Method = "webrtc-leak"
	MethodFontFingerprint   Method = "font-fingerprint"
	MethodAudioFingerprint  Method = "audio-fingerprint"
	MethodWebGLFingerprint  Method = "webgl-fingerprint"
	MethodBatteryAPI        Method = "battery-api"
	MethodSensorAPI         Method = "sensor-api"
	MethodUnknown           Method = "unknown"
)

// Methods lists every known detection method in a stable order
var Methods = []Method{
	MethodCanvasFingerprint,
	MethodStorageAccess,
	MethodMouseTracking,
	MethodFormMonitoring,
	MethodDeviceAPI,
	MethodWebRTCLeak,
	MethodFontFingerprint,
	MethodAudioFingerprint,
	MethodWebGLFingerprint,
	MethodBatteryAPI,
	MethodSensorAPI,
}

// ParseMethod maps a raw tag onto a known method, or MethodUnknown
func ParseMethod(s string) Method {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if m.Known() {
		return m
	}
	return MethodUnknown
}

// Known reports whether m is one of the eleven detection methods
func (m Method) Known() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Result is the outcome of a single analyzer call.
// A negative result still carries the observed evidence so callers can
// log benign activity the same way as detections.
type Result struct {
	Detected    bool      `json:"detected"`
	Method      Method    `json:"method"`
	Risk        RiskLevel `json:"risk_level"`
	Description string    `json:"description"`
	Details     string    `json:"details"`
	Evidence    []string  `json:"evidence,omitempty"`
	Frequency   int       `json:"frequency,omitempty"`
}
