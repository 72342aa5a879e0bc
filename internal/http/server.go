package httpx

import "net/http"

// routes lists every path served by NewMux; it also bounds the metrics
// endpoint label
var routes = map[string]struct{}{
	"/healthz":            {},
	"/readyz":             {},
	"/v1/observe/request": {},
	"/v1/observe/page":    {},
	"/v1/tabs/close":      {},
	"/v1/classify":        {},
	"/v1/score":           {},
	"/v1/analysis":        {},
	"/v1/events":          {},
	"/v1/summary":         {},
	"/v1/hmac/public-key": {},
}

func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)

	mux.HandleFunc("/v1/observe/request", e.ObserveRequest)
	mux.HandleFunc("/v1/observe/page", e.ObservePage)
	mux.HandleFunc("/v1/tabs/close", e.CloseTab)

	mux.HandleFunc("/v1/classify", e.Classify)
	mux.HandleFunc("/v1/score", e.Score)
	mux.HandleFunc("/v1/analysis", e.Analysis)
	mux.HandleFunc("/v1/events", e.Events)
	mux.HandleFunc("/v1/summary", e.Summary)

	mux.HandleFunc("/v1/hmac/public-key", e.HMACPublicKey)

	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(mux)))
}
