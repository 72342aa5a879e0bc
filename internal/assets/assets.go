package assets

import _ "embed"

// TrackersYAML is the built-in tracker database, compiled into the binary
// at build time. Extensions are layered on top at startup (TRACKERS_FILE).
//
//go:embed trackers.yaml
var TrackersYAML []byte
