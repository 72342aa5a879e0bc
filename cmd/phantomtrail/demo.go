package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/analysis"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/collector"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/score"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/store"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/summary"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/tracker"
	"github.com/YrFnS/Phantom-Trail-sub001/pkg/config"
)

var demoSinks bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Replay a scripted browsing session through the detection pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		var emit func(event.TrackingEvent)
		if demoSinks {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sinks := initializeSinks(cmd.Context(), cfg.Outputs)
			defer closeSinks(sinks)
			emit = createEmitFunc(sinks, nil)
		}
		_, err := runDemo(cmd.Context(), cmd.OutOrStdout(), time.Now().UTC(), emit)
		return err
	},
}

func init() {
	demoCmd.Flags().BoolVar(&demoSinks, "sinks", false, "also send detections to the sinks named in OUTPUTS")
}

const (
	demoNewsPage = "https://www.news.example/article?id=42&utm_source=newsletter"
	demoShopPage = "https://shop.example/checkout"
)

// demoStep is one scripted browser observation
type demoStep struct {
	after   time.Duration
	tab     string
	page    string
	request string
	// exactly one of request, evidence, storage or mouse is set
	evidence detection.Evidence
	storage  *detection.StorageOp
	mouse    int
}

func demoScript() []demoStep {
	steps := []demoStep{
		{after: 0, tab: "1", page: demoNewsPage, request: "https://www.news.example/static/app.js"},
		{after: 200 * time.Millisecond, tab: "1", page: demoNewsPage, request: "https://www.google-analytics.com/g/collect?tid=G-DEMO&cid=555.1"},
		{after: 300 * time.Millisecond, tab: "1", page: demoNewsPage, request: "https://securepubads.g.doubleclick.net/gampad/ads?iu=/1234/news"},
		{after: 100 * time.Millisecond, tab: "1", page: demoNewsPage, request: "https://connect.facebook.net/en_US/fbevents.js"},
		{after: time.Second, tab: "1", page: demoNewsPage, evidence: detection.CanvasEvidence{
			Operations: []string{"HTMLCanvasElement.getContext", "CanvasRenderingContext2D.fillText", "HTMLCanvasElement.toDataURL"},
		}},
	}
	for i := 0; i < 12; i++ {
		steps = append(steps, demoStep{after: time.Second, tab: "1", page: demoNewsPage, storage: &detection.StorageOp{
			Storage: "localStorage",
			Op:      "setItem",
			Key:     fmt.Sprintf("_demo_id_%d", i),
		}})
	}
	for i := 0; i < 4; i++ {
		steps = append(steps, demoStep{after: 500 * time.Millisecond, tab: "1", page: demoNewsPage, mouse: 40})
	}
	return append(steps,
		demoStep{after: 5 * time.Second, tab: "2", page: demoShopPage, request: "https://securepubads.g.doubleclick.net/pagead/conversion"},
		demoStep{after: 100 * time.Millisecond, tab: "2", page: demoShopPage, request: "https://www.google-analytics.com/g/collect?tid=G-DEMO&en=begin_checkout"},
		demoStep{after: 2 * time.Second, tab: "2", page: demoShopPage, evidence: detection.FormEvidence{Fields: []detection.FormField{
			{Type: "email", Name: "email", Monitored: true},
			{Type: "password", Name: "password", Monitored: true},
			{Type: "text", Name: "coupon"},
		}}},
	)
}

// runDemo replays demoScript on a clock starting at start, then prints the
// score card and a plain summary to w.
func runDemo(ctx context.Context, w io.Writer, start time.Time, emit func(event.TrackingEvent)) (summary.Summary, error) {
	now := start
	st := store.NewMemoryStore()
	defer st.Close()
	col := collector.New(collector.Config{
		Classifier: tracker.NewClassifier(tracker.Default()),
		Store:      st,
		Emit:       emit,
		Now:        func() time.Time { return now },
	})

	steps := demoScript()
	for i, s := range steps {
		now = now.Add(s.after)
		var (
			e   *event.TrackingEvent
			err error
		)
		switch {
		case s.request != "":
			e, err = col.ObserveRequest(ctx, collector.RequestObservation{TabID: s.tab, URL: s.request, PageURL: s.page})
		case s.storage != nil:
			op := *s.storage
			op.At = now
			_, e, err = col.ObserveStorageOp(ctx, s.tab, s.page, op)
		case s.mouse > 0:
			_, e, err = col.ObserveMouse(ctx, s.tab, s.page, s.mouse, 500)
		default:
			_, e, err = col.ObservePage(ctx, collector.PageObservation{TabID: s.tab, PageURL: s.page, Evidence: s.evidence})
		}
		if err != nil {
			return summary.Summary{}, fmt.Errorf("demo step %d: %w", i+1, err)
		}
		if e != nil {
			log.Printf("demo: step %d/%d tab=%s %s %s (%s)", i+1, len(steps), e.TabID, e.TrackerType, e.Domain, e.Risk)
		}
	}

	events, err := col.Events(ctx, store.Query{})
	if err != nil {
		return summary.Summary{}, err
	}
	ps := score.Compute(events, true)
	report := analysis.Analyze(events, analysis.TimeRange{}, analysis.Options{})
	s := summary.Build(events, ps, report)

	fmt.Fprintln(w, renderScore(ps))
	fmt.Fprintln(w)
	fmt.Fprintln(w, summary.Template(s))
	return s, nil
}
