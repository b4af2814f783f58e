// Package presets generates starter manifests for common project layouts.
package presets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modoterra/procwatch/pkg/manifest"
)

// ErrUnknownProject is returned when no preset recognises a directory.
var ErrUnknownProject = errors.New("no preset matches this project")

// Generate picks the first preset that recognises root.
func Generate(root string) (*manifest.Manifest, error) {
	for _, gen := range []func(string) (*manifest.Manifest, error){GenerateLaravel, GenerateNode} {
		m, err := gen(root)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrUnknownProject) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", root, ErrUnknownProject)
}

// GenerateLaravel creates a manifest for a Laravel project at the given root.
func GenerateLaravel(root string) (*manifest.Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	if _, err := os.Stat(filepath.Join(absRoot, "artisan")); err != nil {
		return nil, fmt.Errorf("%s has no artisan file: %w", absRoot, ErrUnknownProject)
	}

	m := newManifest(absRoot)

	m.Processes["php-serve"] = manifest.Process{
		Command: "php artisan serve",
		Dir:     "${root}",
	}
	m.Processes["scheduler"] = manifest.Process{
		Command: "php artisan schedule:work",
		Dir:     "${root}",
		Levels:  []string{"warn", "error"},
	}
	m.Processes["queue-worker"] = manifest.Process{
		Command: "php artisan queue:work",
		Dir:     "${root}",
	}

	// Vite if package.json exists
	if _, err := os.Stat(filepath.Join(absRoot, "package.json")); err == nil {
		m.Processes["vite"] = manifest.Process{
			Command: "npm run dev",
			Dir:     "${root}",
			Format:  "text",
		}
	}

	// Reverb (check if installed)
	if data, err := os.ReadFile(filepath.Join(absRoot, "composer.lock")); err == nil {
		if strings.Contains(string(data), "laravel/reverb") {
			m.Processes["reverb"] = manifest.Process{
				Command: "php artisan reverb:start",
				Dir:     "${root}",
			}
		}
	}

	// Pail streams the application log as JSON lines.
	if _, err := os.Stat(filepath.Join(absRoot, "vendor", "laravel", "pail")); err == nil {
		m.Processes["app-log"] = manifest.Process{
			Command: "php artisan pail --json",
			Dir:     "${root}",
			Format:  "json",
		}
	}

	return m, nil
}

func newManifest(root string) *manifest.Manifest {
	return &manifest.Manifest{
		Version:   1,
		Root:      root,
		Processes: make(map[string]manifest.Process),
	}
}
