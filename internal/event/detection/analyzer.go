package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Thresholds for the frequency based analyzers
const (
	CanvasThreshold    = 3
	StorageThreshold   = 10
	StorageWindow      = 60 * time.Second
	MouseRateThreshold = 50.0 // mousemove events per second
	DeviceThreshold    = 3
	FontThreshold      = 20
	AudioThreshold     = 2
	WebGLThreshold     = 5
	maxEvidenceEntries = 20
)

var canvasOperations = map[string]bool{
	"getcontext":   true,
	"todataurl":    true,
	"getimagedata": true,
	"filltext":     true,
	"measuretext":  true,
}

var audioOperations = map[string]bool{
	"audiocontext":             true,
	"offlineaudiocontext":      true,
	"createoscillator":         true,
	"createdynamicscompressor": true,
	"createanalyser":           true,
	"getfloatfrequencydata":    true,
	"getbytefrequencydata":     true,
	"startrendering":           true,
}

var webglQueries = map[string]bool{
	"getparameter":             true,
	"getextension":             true,
	"getsupportedextensions":   true,
	"getshaderprecisionformat": true,
	"getcontextattributes":     true,
}

// deviceAPIs maps a lower-cased substring of a call name to the device API
// it belongs to. Order matters: the first match wins.
var deviceAPIs = []struct {
	needle string
	api    string
}{
	{"getbattery", "battery"},
	{"battery", "battery"},
	{"geolocation", "geolocation"},
	{"getcurrentposition", "geolocation"},
	{"watchposition", "geolocation"},
	{"clipboard", "clipboard"},
	{"hardwareconcurrency", "hardwareConcurrency"},
	{"devicememory", "deviceMemory"},
	{"platform", "platform"},
	{"useragent", "userAgent"},
	{"screen.", "screen"},
	{"availwidth", "screen"},
	{"availheight", "screen"},
	{"colordepth", "screen"},
	{"pixeldepth", "screen"},
}

var sensorEvents = map[string]bool{
	"devicemotion":              true,
	"deviceorientation":         true,
	"deviceorientationabsolute": true,
}

// Analyze dispatches evidence to its analyzer. Evidence of an unknown kind,
// including nil, yields a negative low-risk result.
func Analyze(ev Evidence) Result {
	switch e := ev.(type) {
	case CanvasEvidence:
		return AnalyzeCanvas(e)
	case StorageEvidence:
		return AnalyzeStorage(e)
	case MouseEvidence:
		return AnalyzeMouse(e)
	case FormEvidence:
		return AnalyzeForm(e)
	case DeviceEvidence:
		return AnalyzeDevice(e)
	case WebRTCEvidence:
		return AnalyzeWebRTC(e)
	case FontEvidence:
		return AnalyzeFonts(e)
	case AudioEvidence:
		return AnalyzeAudio(e)
	case WebGLEvidence:
		return AnalyzeWebGL(e)
	case BatteryEvidence:
		return AnalyzeBattery(e)
	case SensorEvidence:
		return AnalyzeSensors(e)
	default:
		details := "no analyzer for this evidence"
		if u, ok := ev.(UnknownEvidence); ok && u.Tag != "" {
			details = fmt.Sprintf("no analyzer for method %q", u.Tag)
		}
		return Result{
			Method:      MethodUnknown,
			Risk:        RiskLow,
			Description: "Unrecognised activity",
			Details:     details,
		}
	}
}

// AnalyzeCanvas flags canvas fingerprinting once enough suspicious canvas
// operations have been observed.
func AnalyzeCanvas(ev CanvasEvidence) Result {
	matched := matchOperations(ev.Operations, canvasOperations)
	res := Result{
		Method:      MethodCanvasFingerprint,
		Risk:        RiskLow,
		Description: "Canvas drawing observed",
		Details:     fmt.Sprintf("%d suspicious canvas operations", len(matched)),
		Evidence:    capEvidence(matched),
		Frequency:   len(matched),
	}
	if len(matched) >= CanvasThreshold {
		res.Detected = true
		res.Risk = RiskHigh
		res.Description = "Canvas fingerprinting detected"
		res.Details = fmt.Sprintf("%d suspicious canvas operations: %s", len(matched), strings.Join(uniqueSorted(matched), ", "))
	}
	return res
}

// AnalyzeStorage flags heavy localStorage/sessionStorage use inside the
// rolling 60 second window ending at ev.Now.
func AnalyzeStorage(ev StorageEvidence) Result {
	now := ev.Now
	if now.IsZero() {
		for _, op := range ev.Operations {
			if op.At.After(now) {
				now = op.At
			}
		}
	}

	var inWindow []string
	if !now.IsZero() {
		cutoff := now.Add(-StorageWindow)
		for _, op := range ev.Operations {
			if op.At.IsZero() || !op.At.After(cutoff) || op.At.After(now) {
				continue
			}
			inWindow = append(inWindow, describeStorageOp(op))
		}
	}

	res := Result{
		Method:      MethodStorageAccess,
		Risk:        RiskLow,
		Description: "Storage access observed",
		Details:     fmt.Sprintf("%d storage operations in the last %s", len(inWindow), StorageWindow),
		Evidence:    capEvidence(inWindow),
		Frequency:   len(inWindow),
	}
	if len(inWindow) >= StorageThreshold {
		res.Detected = true
		res.Risk = RiskMedium
		res.Description = "Excessive storage access detected"
	}
	return res
}

// AnalyzeMouse flags high-frequency mouse tracking
func AnalyzeMouse(ev MouseEvidence) Result {
	rate := MouseRate(ev.Events, ev.ElapsedMS)
	res := Result{
		Method:      MethodMouseTracking,
		Risk:        RiskLow,
		Description: "Mouse movement observed",
		Details:     fmt.Sprintf("%.1f mousemove events per second", rate),
		Frequency:   clampCount(ev.Events),
	}
	if rate >= MouseRateThreshold {
		res.Detected = true
		res.Risk = RiskMedium
		res.Description = "Mouse movement tracking detected"
	}
	return res
}

// MouseRate returns events per second, or 0 for unusable input
func MouseRate(events int, elapsedMS float64) float64 {
	if events <= 0 || elapsedMS <= 0 || math.IsNaN(elapsedMS) || math.IsInf(elapsedMS, 0) {
		return 0
	}
	return float64(events) / elapsedMS * 1000
}

// AnalyzeForm flags scripts listening on form inputs. A monitored password
// field always escalates to critical.
func AnalyzeForm(ev FormEvidence) Result {
	var monitored []string
	password := false
	for _, f := range ev.Fields {
		if !f.Monitored {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(f.Type))
		if typ == "" {
			typ = "text"
		}
		if typ == "password" {
			password = true
		}
		monitored = append(monitored, typ+":"+strings.TrimSpace(f.Name))
	}

	res := Result{
		Method:      MethodFormMonitoring,
		Risk:        RiskLow,
		Description: "Form fields observed",
		Details:     fmt.Sprintf("%d monitored form fields", len(monitored)),
		Evidence:    capEvidence(monitored),
		Frequency:   len(monitored),
	}
	if len(monitored) == 0 {
		return res
	}
	res.Detected = true
	res.Risk = RiskHigh
	res.Description = "Form input monitoring detected"
	if password {
		res.Risk = RiskCritical
		res.Description = "Password field monitoring detected"
		res.Details = fmt.Sprintf("%d monitored form fields including a password field", len(monitored))
	}
	return res
}

// AnalyzeDevice flags scripts reading several distinct device APIs
func AnalyzeDevice(ev DeviceEvidence) Result {
	seen := make(map[string]bool)
	for _, call := range ev.Calls {
		if api := deviceAPI(call); api != "" {
			seen[api] = true
		}
	}
	apis := make([]string, 0, len(seen))
	for api := range seen {
		apis = append(apis, api)
	}
	sort.Strings(apis)

	res := Result{
		Method:      MethodDeviceAPI,
		Risk:        RiskLow,
		Description: "Device API access observed",
		Details:     fmt.Sprintf("%d distinct device APIs", len(apis)),
		Evidence:    apis,
		Frequency:   len(apis),
	}
	if len(apis) >= DeviceThreshold {
		res.Detected = true
		res.Risk = RiskHigh
		res.Description = "Device fingerprinting detected"
		res.Details = fmt.Sprintf("%d distinct device APIs: %s", len(apis), strings.Join(apis, ", "))
	}
	return res
}

func deviceAPI(call string) string {
	c := strings.ToLower(strings.TrimSpace(call))
	if c == "" {
		return ""
	}
	for _, d := range deviceAPIs {
		if strings.Contains(c, d.needle) {
			return d.api
		}
	}
	if c == "screen" || strings.HasPrefix(c, "screen") {
		return "screen"
	}
	return ""
}

// AnalyzeWebRTC fires on the first RTCPeerConnection construction
func AnalyzeWebRTC(ev WebRTCEvidence) Result {
	n := clampCount(ev.Constructions)
	res := Result{
		Method:      MethodWebRTCLeak,
		Risk:        RiskLow,
		Description: "No WebRTC activity",
		Details:     "0 RTCPeerConnection constructions",
	}
	if n > 0 {
		res.Detected = true
		res.Risk = RiskCritical
		res.Description = "WebRTC IP leak attempt detected"
		res.Details = fmt.Sprintf("%d RTCPeerConnection constructions", n)
		res.Evidence = []string{"RTCPeerConnection"}
		res.Frequency = n
	}
	return res
}

// AnalyzeFonts flags font enumeration through text measurement
func AnalyzeFonts(ev FontEvidence) Result {
	fonts := uniqueSorted(normalizeAll(ev.Fonts))
	res := Result{
		Method:      MethodFontFingerprint,
		Risk:        RiskLow,
		Description: "Font measurement observed",
		Details:     fmt.Sprintf("%d distinct fonts checked", len(fonts)),
		Evidence:    capEvidence(fonts),
		Frequency:   len(fonts),
	}
	if len(fonts) >= FontThreshold {
		res.Detected = true
		res.Risk = RiskHigh
		res.Description = "Font fingerprinting detected"
	}
	return res
}

// AnalyzeAudio flags the oscillator/compressor audio fingerprint pattern
func AnalyzeAudio(ev AudioEvidence) Result {
	matched := matchOperations(ev.Operations, audioOperations)
	res := Result{
		Method:      MethodAudioFingerprint,
		Risk:        RiskLow,
		Description: "Audio API use observed",
		Details:     fmt.Sprintf("%d AudioContext operations", len(matched)),
		Evidence:    capEvidence(matched),
		Frequency:   len(matched),
	}
	if len(matched) >= AudioThreshold {
		res.Detected = true
		res.Risk = RiskHigh
		res.Description = "Audio fingerprinting detected"
	}
	return res
}

// AnalyzeWebGL flags repeated WebGL parameter and extension queries
func AnalyzeWebGL(ev WebGLEvidence) Result {
	matched := matchOperations(ev.Queries, webglQueries)
	res := Result{
		Method:      MethodWebGLFingerprint,
		Risk:        RiskLow,
		Description: "WebGL use observed",
		Details:     fmt.Sprintf("%d WebGL parameter queries", len(matched)),
		Evidence:    capEvidence(uniqueSorted(matched)),
		Frequency:   len(matched),
	}
	if len(matched) >= WebGLThreshold {
		res.Detected = true
		res.Risk = RiskHigh
		res.Description = "WebGL fingerprinting detected"
	}
	return res
}

// AnalyzeBattery fires on any navigator.getBattery() call
func AnalyzeBattery(ev BatteryEvidence) Result {
	n := clampCount(ev.Calls)
	res := Result{
		Method:      MethodBatteryAPI,
		Risk:        RiskLow,
		Description: "No battery API access",
		Details:     "0 getBattery calls",
	}
	if n > 0 {
		res.Detected = true
		res.Risk = RiskMedium
		res.Description = "Battery status fingerprinting detected"
		res.Details = fmt.Sprintf("%d getBattery calls", n)
		res.Evidence = []string{"navigator.getBattery"}
		res.Frequency = n
	}
	return res
}

// AnalyzeSensors fires on any motion or orientation listener registration
func AnalyzeSensors(ev SensorEvidence) Result {
	var matched []string
	for _, l := range ev.Listeners {
		name := strings.ToLower(strings.TrimSpace(l))
		name = strings.TrimPrefix(name, "on")
		if sensorEvents[name] {
			matched = append(matched, name)
		}
	}
	res := Result{
		Method:      MethodSensorAPI,
		Risk:        RiskLow,
		Description: "No sensor access",
		Details:     "0 motion or orientation listeners",
	}
	if len(matched) > 0 {
		res.Detected = true
		res.Risk = RiskMedium
		res.Description = "Device sensor access detected"
		res.Details = fmt.Sprintf("%d motion or orientation listeners", len(matched))
		res.Evidence = uniqueSorted(matched)
		res.Frequency = len(matched)
	}
	return res
}

// matchOperations returns every call whose short name is in the set,
// preserving order and repetitions.
func matchOperations(calls []string, set map[string]bool) []string {
	var out []string
	for _, c := range calls {
		short := shortName(c)
		if set[strings.ToLower(short)] {
			out = append(out, short)
		}
	}
	return out
}

// shortName strips receivers and call syntax: "ctx.getImageData()" -> "getImageData"
func shortName(call string) string {
	s := strings.TrimSpace(call)
	s = strings.TrimPrefix(s, "new ")
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func describeStorageOp(op StorageOp) string {
	store := op.Storage
	if store == "" {
		store = "localStorage"
	}
	if op.Key == "" {
		return store + "." + op.Op
	}
	return fmt.Sprintf("%s.%s(%s)", store, op.Op, op.Key)
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(strings.Trim(s, `"'`)))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func capEvidence(in []string) []string {
	if len(in) > maxEvidenceEntries {
		return in[:maxEvidenceEntries]
	}
	return in
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
