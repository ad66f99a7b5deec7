// Package inject splices configured content into upstream response bodies.
//
// The injection payload and marker are loaded once at startup and shared
// read-only by every request. Responses on eligible paths are buffered in
// full by a Transformer, which emits the spliced body as a single chunk.
package inject

import (
	"fmt"
	"log/slog"
	"os"

	"roller-proxy/internal/config"
)

// Injection holds the immutable injection descriptor: the bytes to insert,
// the marker to insert them before, and the paths it applies to.
type Injection struct {
	Payload []byte
	Marker  []byte
	Paths   PathSet
}

// New creates an Injection from already-loaded values.
func New(payload []byte, marker string, paths []string) *Injection {
	return &Injection{
		Payload: payload,
		Marker:  []byte(marker),
		Paths:   NewPathSet(paths),
	}
}

// Load reads the injection source file named in the config.
func Load(cfg *config.Config, logger *slog.Logger) (*Injection, error) {
	path := cfg.SourcePath()
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inject: read source %s: %w", path, err)
	}

	inj := New(payload, cfg.Inject.Marker, cfg.Inject.Paths)
	logger.Info("loaded injection source",
		"path", path,
		"bytes", len(payload),
		"paths", inj.Paths.Len(),
	)
	return inj, nil
}
