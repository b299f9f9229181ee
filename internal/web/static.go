package web

import "embed"

// staticFiles holds the dashboard page and its assets.
//
//go:embed static/*
var staticFiles embed.FS
