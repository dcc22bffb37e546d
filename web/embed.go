// Package web holds the configuration widget served to the journey canvas.
package web

import "embed"

// Assets contains the widget page, its script and the canvas icon.
//
//go:embed index.html activity.js icon.png
var Assets embed.FS
