package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/duncanmillerza/hadada-intake/internal/common"
)

// templateFilePattern names template files on disk: intake_v<version>.json.
const templateFilePattern = "intake_v%s.json"

// Registry loads versioned form templates from a directory and caches them.
// Templates are immutable after load, so the cache is read-through and never
// invalidated; concurrent readers share the same logical template.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*FormTemplate
}

func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*FormTemplate),
	}
}

// Load returns the template for a version, reading it from disk on first use.
// Unknown versions fail with ErrTemplateNotFound; structurally invalid files
// fail with ErrTemplateMalformed.
func (r *Registry) Load(ctx context.Context, version string) (*FormTemplate, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: empty version", common.ErrTemplateNotFound)
	}

	r.mu.RLock()
	if t, ok := r.cache[version]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(r.dir, fmt.Sprintf(templateFilePattern, version))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("template.load.missing", "version", version, "path", path)
			return nil, fmt.Errorf("%w: %s", common.ErrTemplateNotFound, version)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}

	t, err := decode(data)
	if err != nil {
		r.logger.Error("template.load.malformed", "version", version, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", common.ErrTemplateMalformed, version, err)
	}
	if t.Version != version {
		r.logger.Error("template.load.version_mismatch", "requested", version, "declared", t.Version)
		return nil, fmt.Errorf("%w: file declares version %q, requested %q", common.ErrTemplateMalformed, t.Version, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[version]; ok {
		return cached, nil
	}
	r.cache[version] = t
	r.logger.Info("template.load.ok", "version", version, "fields", len(t.Fields))
	return t, nil
}

// decode schema-validates, unmarshals, and structurally validates a template
// document.
func decode(data []byte) (*FormTemplate, error) {
	if err := validateTemplateJSON(data); err != nil {
		return nil, err
	}
	var t FormTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Info is a registry listing entry.
type Info struct {
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	FieldCount  int    `json:"field_count"`
}

// List scans the template directory and returns the available versions in
// ascending version-string order. Listing loads (and caches) each template so
// a malformed file surfaces here rather than at first extraction.
func (r *Registry) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir %s: %w", r.dir, err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, ok := versionFromFilename(e.Name())
		if !ok {
			continue
		}
		t, err := r.Load(ctx, version)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Version: t.Version, Description: t.Description, FieldCount: len(t.Fields)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version < infos[j].Version })
	return infos, nil
}

func versionFromFilename(name string) (string, bool) {
	var version string
	if _, err := fmt.Sscanf(name, "intake_v%s", &version); err != nil {
		return "", false
	}
	ext := filepath.Ext(version)
	if ext != ".json" {
		return "", false
	}
	return version[:len(version)-len(ext)], true
}
