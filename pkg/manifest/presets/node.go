package presets

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/modoterra/procwatch/pkg/manifest"
)

// nodeScripts are the package.json scripts turned into processes, in the
// order they are looked up.
var nodeScripts = []string{"dev", "start", "watch", "worker"}

var lockRunners = []struct{ lockfile, runner string }{
	{"pnpm-lock.yaml", "pnpm run"},
	{"yarn.lock", "yarn run"},
	{"bun.lockb", "bun run"},
}

// GenerateNode creates a manifest from the scripts of a package.json.
func GenerateNode(root string) (*manifest.Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(absRoot, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("%s has no package.json: %w", absRoot, ErrUnknownProject)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: package.json is not valid JSON", absRoot)
	}

	runner := "npm run"
	for _, lr := range lockRunners {
		if _, err := os.Stat(filepath.Join(absRoot, lr.lockfile)); err == nil {
			runner = lr.runner
			break
		}
	}

	m := newManifest(absRoot)
	scripts := gjson.GetBytes(data, "scripts")
	for _, name := range nodeScripts {
		if !scripts.Get(name).Exists() {
			continue
		}
		m.Processes[name] = manifest.Process{
			Command: runner + " " + name,
			Dir:     "${root}",
		}
	}
	if len(m.Processes) == 0 {
		return nil, fmt.Errorf("%s: package.json defines none of %v: %w", absRoot, nodeScripts, ErrUnknownProject)
	}
	return m, nil
}
