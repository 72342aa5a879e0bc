package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/analysis"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/collector"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
	"github.com/YrFnS/Phantom-Trail-sub001/pkg/config"
)

// maxLineBytes bounds a single NDJSON record
const maxLineBytes = 1 << 20

var (
	eventsFile  string
	scoreHTTPS  bool
	scoreSite   string
	granularity string
	since       string
	until       string
)

var classifyCmd = &cobra.Command{
	Use:   "classify URL...",
	Short: "Classify request URLs against the tracker database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		c, err := loadClassifier(cfg)
		if err != nil {
			return err
		}
		for _, line := range classifyLines(c, args) {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute the privacy score of an NDJSON event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadEventsFile(eventsFile)
		if err != nil {
			return err
		}
		if scoreSite != "" {
			events = filterSite(events, scoreSite)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderScore(score.Compute(events, scoreHTTPS)))
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run pattern, risk and timeline analysis over an NDJSON event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadEventsFile(eventsFile)
		if err != nil {
			return err
		}
		rng, err := parseRange(since, until)
		if err != nil {
			return err
		}
		report := analysis.Analyze(events, rng, analysis.Options{Granularity: analysis.ParseGranularity(granularity)})
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	for _, c := range []*cobra.Command{scoreCmd, analyzeCmd} {
		c.Flags().StringVarP(&eventsFile, "file", "f", "-", "NDJSON event log, - for stdin")
	}
	scoreCmd.Flags().BoolVar(&scoreHTTPS, "https", false, "the page was served over HTTPS")
	scoreCmd.Flags().StringVar(&scoreSite, "site", "", "only score events seen on this site")
	analyzeCmd.Flags().StringVarP(&granularity, "granularity", "g", "hour", "timeline bucket size (hour or day)")
	analyzeCmd.Flags().StringVar(&since, "since", "", "range start (RFC3339)")
	analyzeCmd.Flags().StringVar(&until, "until", "", "range end (RFC3339)")
}

// classifyLines renders one tab separated line per URL
func classifyLines(c collector.Classifier, urls []string) []string {
	lines := make([]string, 0, len(urls))
	for _, u := range urls {
		info := c.Classify(u)
		if info == nil {
			lines = append(lines, fmt.Sprintf("%s\tclean", event.SanitizeURL(u)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s\t%s", event.SanitizeURL(u), info.Name, info.Category, info.Risk))
	}
	return lines
}

func loadEventsFile(path string) ([]event.TrackingEvent, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	events, skipped, err := readEvents(r, time.Now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Printf("phantomtrail: skipped %d malformed records", skipped)
	}
	return events, nil
}

// readEvents decodes one event per line. Blank lines are ignored and
// undecodable lines are counted, not fatal.
func readEvents(r io.Reader, now time.Time) ([]event.TrackingEvent, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var (
		events  []event.TrackingEvent
		skipped int
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e event.TrackingEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Domain == "" {
			skipped++
			continue
		}
		event.Normalize(&e, now)
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read events: %w", err)
	}
	return events, skipped, nil
}

func filterSite(events []event.TrackingEvent, site string) []event.TrackingEvent {
	want := event.RegistrableDomain(site)
	var out []event.TrackingEvent
	for _, e := range events {
		if event.RegistrableDomain(e.FirstParty) == want {
			out = append(out, e)
		}
	}
	return out
}

func parseRange(start, end string) (analysis.TimeRange, error) {
	var rng analysis.TimeRange
	var err error
	if start != "" {
		if rng.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return rng, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if end != "" {
		if rng.End, err = time.Parse(time.RFC3339, end); err != nil {
			return rng, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && !rng.Start.Before(rng.End) {
		return rng, fmt.Errorf("--since must be before --until")
	}
	return rng, nil
}

var gradeColors = map[score.Color]lipgloss.Color{
	score.ColorGreen:  lipgloss.Color("#04B575"),
	score.ColorYellow: lipgloss.Color("#F2C94C"),
	score.ColorOrange: lipgloss.Color("#F2994A"),
	score.ColorRed:    lipgloss.Color("#FF6B6B"),
}

// renderScore draws the score as a bordered card
func renderScore(ps score.PrivacyScore) string {
	accent, ok := gradeColors[ps.Color]
	if !ok {
		accent = lipgloss.Color("#874BFD")
	}
	gradeStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(accent).
		Padding(0, 2)
	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#999999"))

	b := ps.Breakdown
	stats := []string{
		keyStyle.Render("events   ") + fmt.Sprintf("%d", b.TotalEvents),
		keyStyle.Render("critical ") + fmt.Sprintf("%d", b.Critical),
		keyStyle.Render("high     ") + fmt.Sprintf("%d", b.High),
		keyStyle.Render("medium   ") + fmt.Sprintf("%d", b.Medium),
		keyStyle.Render("low      ") + fmt.Sprintf("%d", b.Low),
	}
	if len(b.Companies) > 0 {
		stats = append(stats, keyStyle.Render("companies ")+strings.Join(b.Companies, ", "))
	}

	top := lipgloss.JoinHorizontal(
		lipgloss.Center,
		gradeStyle.Render(string(ps.Grade)),
		lipgloss.JoinVertical(lipgloss.Left, fmt.Sprintf("Privacy score %d/100", ps.Score), string(ps.Color)),
	)
	sections := []string{top, "", lipgloss.JoinVertical(lipgloss.Left, stats...)}
	if len(ps.Recommendations) > 0 {
		recs := make([]string, 0, len(ps.Recommendations))
		for _, r := range ps.Recommendations {
			recs = append(recs, "• "+r)
		}
		sections = append(sections, "", lipgloss.JoinVertical(lipgloss.Left, recs...))
	}

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1)
	return card.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}
