// Package descriptor serves the activity's config.json with the public base URL filled in.
package descriptor

import (
	"bytes"
	"fmt"
	"os"
)

// EndpointToken is replaced with the service's public base URL.
const EndpointToken = "{{Endpoint}}"

// Loader reads the descriptor template from disk on every call so edits apply without a restart.
type Loader struct {
	path    string
	baseURL string
}

// NewLoader constructs a Loader.
func NewLoader(path, baseURL string) *Loader {
	return &Loader{path: path, baseURL: baseURL}
}

// Load returns the descriptor with every endpoint token substituted.
func (l *Loader) Load() ([]byte, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", l.path, err)
	}
	return bytes.ReplaceAll(raw, []byte(EndpointToken), []byte(l.baseURL)), nil
}
