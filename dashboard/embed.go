// Package dashboard embeds the web UI served at "/".
//
// The page lists every watch, follows /api/sse for live changes and offers
// a refresh button per watch that posts to /api/watches/{name}/refresh.
package dashboard

import "embed"

// Assets holds assets/index.html. The literal {{.Title}} in it is replaced
// by the configured title when served.
//
//go:embed assets/*
var Assets embed.FS
