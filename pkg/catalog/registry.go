package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader produces a fresh snapshot.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// FileLoader reads a catalog from disk. Format is "yaml" or "csv"; when empty
// it is inferred from the file extension.
type FileLoader struct {
	Path    string
	Format  string
	Version string // used for CSV catalogs, which carry no version
}

func (l FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", l.Path, err)
	}
	defer f.Close()

	format := strings.ToLower(l.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(l.Path)), ".")
	}

	switch format {
	case "yaml", "yml":
		return LoadYAML(f)
	case "csv":
		version := l.Version
		if version == "" {
			version = strings.TrimSuffix(filepath.Base(l.Path), filepath.Ext(l.Path))
		}
		return LoadCSV(f, version)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
}

// StaticLoader always returns the same snapshot.
type StaticLoader struct {
	Snapshot *Snapshot
}

func (l StaticLoader) Load(context.Context) (*Snapshot, error) {
	return l.Snapshot, nil
}

// Registry publishes the current snapshot process-wide. Readers take the
// pointer once per operation so in-flight work never sees a half-loaded
// catalog.
type Registry struct {
	current atomic.Pointer[Snapshot]
	loader  Loader
	group   singleflight.Group
	logger  *zap.Logger
}

// NewRegistry loads the initial snapshot.
func NewRegistry(ctx context.Context, loader Loader, logger *zap.Logger) (*Registry, error) {
	r := &Registry{loader: loader, logger: logger.Named("catalog")}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry wraps an already built snapshot.
func NewStaticRegistry(s *Snapshot) *Registry {
	r := &Registry{loader: StaticLoader{Snapshot: s}, logger: zap.NewNop()}
	r.current.Store(s)
	return r
}

// Current returns the published snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Reload builds a new snapshot and publishes it. Concurrent reloads share a
// single load. On failure the previous snapshot stays published.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	v, err, shared := r.group.Do("reload", func() (any, error) {
		s, err := r.loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		prev := r.current.Swap(s)
		if prev != nil {
			r.logger.Info("Catalog reloaded",
				zap.String("previous_version", prev.Version()),
				zap.String("version", s.Version()),
				zap.Int("questions", s.Len()))
		} else {
			r.logger.Info("Catalog loaded",
				zap.String("version", s.Version()),
				zap.Int("questions", s.Len()),
				zap.Int("mappings", s.MappingCount()))
		}
		return s, nil
	})
	if err != nil {
		r.logger.Error("Catalog load failed", zap.Error(err))
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if shared {
		r.logger.Debug("Catalog reload shared with concurrent caller")
	}
	return v.(*Snapshot), nil
}
