package score

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

// Scoring weights
const (
	Base = 100

	PenaltyCritical = 30
	PenaltyHigh     = 18
	PenaltyMedium   = 10
	PenaltyLow      = 5

	HTTPSBonus = 10

	// ExcessiveThreshold is the event count above which ExcessivePenalty applies once
	ExcessiveThreshold = 5
	ExcessivePenalty   = 25

	// CompanyThreshold is the distinct company count above which cross-site
	// tracking is flagged
	CompanyThreshold = 3
	CrossSitePenalty = 15

	PersistentPenalty = 20
)

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

// Breakdown records how a score was reached
type Breakdown struct {
	TotalEvents        int      `json:"total_events"`
	Critical           int      `json:"critical"`
	High               int      `json:"high"`
	Medium             int      `json:"medium"`
	Low                int      `json:"low"`
	HTTPSBonus         bool     `json:"https_bonus"`
	ExcessiveTracking  bool     `json:"excessive_tracking"`
	CrossSiteTracking  bool     `json:"cross_site_tracking"`
	PersistentTracking bool     `json:"persistent_tracking"`
	PasswordMonitoring bool     `json:"password_monitoring"`
	Companies          []string `json:"companies"`
}

// PrivacyScore is the graded result for one event window
type PrivacyScore struct {
	Score           int       `json:"score"`
	Grade           Grade     `json:"grade"`
	Color           Color     `json:"color"`
	Breakdown       Breakdown `json:"breakdown"`
	Recommendations []string  `json:"recommendations"`
}

// Penalty is the per-event deduction for a risk level. Unknown levels
// are charged as low.
func Penalty(r detection.RiskLevel) int {
	switch r {
	case detection.RiskCritical:
		return PenaltyCritical
	case detection.RiskHigh:
		return PenaltyHigh
	case detection.RiskMedium:
		return PenaltyMedium
	default:
		return PenaltyLow
	}
}

// Compute scores events seen on a page served over HTTPS (or not). It is a
// pure function of its inputs: event order does not matter and nothing
// outside the arguments is read. A nil slice scores like an empty one.
func Compute(events []event.TrackingEvent, isHTTPS bool) PrivacyScore {
	b := Breakdown{TotalEvents: len(events)}
	score := Base

	companies := mapset.NewThreadUnsafeSet[string]()
	for _, e := range events {
		risk := detection.ParseRiskLevel(string(e.Risk))
		switch risk {
		case detection.RiskCritical:
			b.Critical++
			if e.IsFingerprinting() {
				b.PersistentTracking = true
			}
		case detection.RiskHigh:
			b.High++
		case detection.RiskMedium:
			b.Medium++
		default:
			b.Low++
		}
		score -= Penalty(risk)

		if e.IsPasswordMonitoring() {
			b.PasswordMonitoring = true
		}
		if c := event.CompanyLabel(e.Domain); c != "" {
			companies.Add(c)
		}
	}

	if isHTTPS {
		b.HTTPSBonus = true
		score += HTTPSBonus
	}
	if len(events) > ExcessiveThreshold {
		b.ExcessiveTracking = true
		score -= ExcessivePenalty
	}
	if companies.Cardinality() > CompanyThreshold {
		b.CrossSiteTracking = true
		score -= CrossSitePenalty
	}
	if b.PersistentTracking {
		score -= PersistentPenalty
	}
	if b.PasswordMonitoring {
		score = 0
	}
	score = clamp(score)

	b.Companies = companies.ToSlice()
	sort.Strings(b.Companies)

	grade, color := GradeFor(score)
	return PrivacyScore{
		Score:           score,
		Grade:           grade,
		Color:           color,
		Breakdown:       b,
		Recommendations: recommendations(b, isHTTPS),
	}
}

// GradeFor maps a 0-100 score to its letter grade and color
func GradeFor(score int) (Grade, Color) {
	switch {
	case score >= 95:
		return GradeA, ColorGreen
	case score >= 85:
		return GradeB, ColorGreen
	case score >= 70:
		return GradeC, ColorYellow
	case score >= 50:
		return GradeD, ColorOrange
	default:
		return GradeF, ColorRed
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func recommendations(b Breakdown, isHTTPS bool) []string {
	recs := []string{}
	if b.PasswordMonitoring {
		recs = append(recs, "A script is watching a password field on this page. Do not enter credentials here.")
	}
	if b.Critical > 0 {
		recs = append(recs, fmt.Sprintf("%d critical-risk tracking attempts detected. Enable fingerprinting protection or block the scripts responsible.", b.Critical))
	}
	if b.CrossSiteTracking {
		recs = append(recs, fmt.Sprintf("Trackers from %d companies can follow you across sites. Block third-party cookies or use a content blocker.", len(b.Companies)))
	}
	if !isHTTPS {
		recs = append(recs, "This page is not served over HTTPS. Avoid submitting personal information.")
	}
	if b.ExcessiveTracking {
		recs = append(recs, fmt.Sprintf("Excessive tracking: %d events recorded. Consider a tracker blocker for this site.", b.TotalEvents))
	}
	if len(recs) == 0 {
		if b.TotalEvents == 0 {
			recs = append(recs, "No significant tracking detected.")
		} else {
			recs = append(recs, "Some tracking detected. Review this site's privacy settings.")
		}
	}
	return recs
}
