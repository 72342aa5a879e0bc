package detection

import (
	"encoding/json"
	"fmt"
	"time"
)

// Evidence is a snapshot of observed browser-API activity handed over by the
// interception layer. The set of variants is closed: one per analyzer, plus
// UnknownEvidence for method tags this build does not recognise.
type Evidence interface {
	Method() Method
	isEvidence()
}

// CanvasEvidence lists canvas API calls seen in the session window
type CanvasEvidence struct {
	Operations []string `json:"operations"`
}

// StorageOp is one localStorage / sessionStorage access
type StorageOp struct {
	Storage string    `json:"storage"` // "localStorage" or "sessionStorage"
	Op      string    `json:"op"`      // getItem, setItem, removeItem, clear, key
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
}

// StorageEvidence lists storage operations; Now anchors the rolling window.
// A zero Now means "the latest operation timestamp".
type StorageEvidence struct {
	Operations []StorageOp `json:"operations"`
	Now        time.Time   `json:"now,omitempty"`
}

// MouseEvidence is a mousemove count over an elapsed interval
type MouseEvidence struct {
	Events    int     `json:"events"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// FormField describes one input the page script attached listeners to
type FormField struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Monitored bool   `json:"monitored"`
}

// FormEvidence lists the form fields observed on the page
type FormEvidence struct {
	Fields []FormField `json:"fields"`
}

// DeviceEvidence lists device/navigator API reads
type DeviceEvidence struct {
	Calls []string `json:"calls"`
}

// WebRTCEvidence counts RTCPeerConnection constructions
type WebRTCEvidence struct {
	Constructions int `json:"constructions"`
}

// FontEvidence lists font families tested through text measurement
type FontEvidence struct {
	Fonts []string `json:"fonts"`
}

// AudioEvidence lists AudioContext related calls
type AudioEvidence struct {
	Operations []string `json:"operations"`
}

// WebGLEvidence lists WebGL parameter and extension queries
type WebGLEvidence struct {
	Queries []string `json:"queries"`
}

// BatteryEvidence counts navigator.getBattery() calls
type BatteryEvidence struct {
	Calls int `json:"calls"`
}

// SensorEvidence lists event types passed to addEventListener on window
type SensorEvidence struct {
	Listeners []string `json:"listeners"`
}

// UnknownEvidence carries a method tag that no analyzer handles
type UnknownEvidence struct {
	Tag string `json:"method"`
}

func (CanvasEvidence) Method() Method  { return MethodCanvasFingerprint }
func (StorageEvidence) Method() Method { return MethodStorageAccess }
func (MouseEvidence) Method() Method   { return MethodMouseTracking }
func (FormEvidence) Method() Method    { return MethodFormMonitoring }
func (DeviceEvidence) Method() Method  { return MethodDeviceAPI }
func (WebRTCEvidence) Method() Method  { return MethodWebRTCLeak }
func (FontEvidence) Method() Method    { return MethodFontFingerprint }
func (AudioEvidence) Method() Method   { return MethodAudioFingerprint }
func (WebGLEvidence) Method() Method   { return MethodWebGLFingerprint }
func (BatteryEvidence) Method() Method { return MethodBatteryAPI }
func (SensorEvidence) Method() Method  { return MethodSensorAPI }
func (UnknownEvidence) Method() Method { return MethodUnknown }

func (CanvasEvidence) isEvidence()  {}
func (StorageEvidence) isEvidence() {}
func (MouseEvidence) isEvidence()   {}
func (FormEvidence) isEvidence()    {}
func (DeviceEvidence) isEvidence()  {}
func (WebRTCEvidence) isEvidence()  {}
func (FontEvidence) isEvidence()    {}
func (AudioEvidence) isEvidence()   {}
func (WebGLEvidence) isEvidence()   {}
func (BatteryEvidence) isEvidence() {}
func (SensorEvidence) isEvidence()  {}
func (UnknownEvidence) isEvidence() {}

// DecodeEvidence decodes the wire form {"method": "<tag>", ...fields}.
// Only malformed JSON is an error; an unrecognised tag yields UnknownEvidence.
func DecodeEvidence(raw []byte) (Evidence, error) {
	var head struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}

	var ev Evidence
	var err error
	switch ParseMethod(head.Method) {
	case MethodCanvasFingerprint:
		ev, err = decodeAs[CanvasEvidence](raw)
	case MethodStorageAccess:
		ev, err = decodeAs[StorageEvidence](raw)
	case MethodMouseTracking:
		ev, err = decodeAs[MouseEvidence](raw)
	case MethodFormMonitoring:
		ev, err = decodeAs[FormEvidence](raw)
	case MethodDeviceAPI:
		ev, err = decodeAs[DeviceEvidence](raw)
	case MethodWebRTCLeak:
		ev, err = decodeAs[WebRTCEvidence](raw)
	case MethodFontFingerprint:
		ev, err = decodeAs[FontEvidence](raw)
	case MethodAudioFingerprint:
		ev, err = decodeAs[AudioEvidence](raw)
	case MethodWebGLFingerprint:
		ev, err = decodeAs[WebGLEvidence](raw)
	case MethodBatteryAPI:
		ev, err = decodeAs[BatteryEvidence](raw)
	case MethodSensorAPI:
		ev, err = decodeAs[SensorEvidence](raw)
	default:
		return UnknownEvidence{Tag: head.Method}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", head.Method, err)
	}
	return ev, nil
}

func decodeAs[T Evidence](raw []byte) (Evidence, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
