package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
	"github.com/platinummonkey/plugstack/pkg/stage"
)

const ManifestWatcherID = "manifest-watcher"

// ManifestWatcher watches a stack manifest and asks for a stage carrying the
// difference whenever the file changes: an Extension stage when kinds are
// added or removed, a Configuration stage when only the config changed.
type ManifestWatcher struct {
	path     string
	registry *plugins.Registry
	logger   logrus.FieldLogger

	mu        sync.Mutex
	applied   *plugins.Manifest
	latest    *plugins.Manifest
	requested *plugins.Manifest

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManifestWatcher creates a watcher for the manifest at path, resolving
// kinds against reg
func NewManifestWatcher(path string, reg *plugins.Registry) *ManifestWatcher {
	return &ManifestWatcher{
		path:     path,
		registry: reg,
		logger:   observability.NopLogger(),
	}
}

// Path returns the watched manifest path
func (w *ManifestWatcher) Path() string { return w.path }

// Setup records the current manifest as applied and starts watching its
// directory. Editors often replace files instead of writing them, so the
// directory is watched rather than the file.
func (w *ManifestWatcher) Setup(ctx context.Context, st *stack.Stack) error {
	w.logger = st.Logger().WithFields(observability.PluginFields(ManifestWatcherID, ""))
	if w.path == "" {
		w.logger.Debug("No manifest path configured")
		return nil
	}

	if m, err := plugins.LoadManifest(w.path); err == nil {
		w.mu.Lock()
		w.applied = m
		w.mu.Unlock()
	} else {
		w.logger.WithError(err).Warn("Failed to load manifest")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.watch()

	w.logger.WithField("path", w.path).Info("Watching manifest")
	return nil
}

func (w *ManifestWatcher) watch() {
	defer close(w.done)
	defer observability.RecoverPanic(w.logger, "manifest watcher")
	target := filepath.Clean(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).Warn("Failed to reload manifest")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Manifest watcher error")
		}
	}
}

// Reload reads the manifest from disk. A stage is requested at the next poll
// if it differs from the applied one.
func (w *ManifestWatcher) Reload() error {
	m, err := plugins.LoadManifest(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = m
	return nil
}

func (w *ManifestWatcher) Shutdown(ctx context.Context) error {
	if w.watcher == nil {
		return nil
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestStage returns the difference between the applied and the latest
// manifest. It keeps asking until a stage carrying it becomes active.
func (w *ManifestWatcher) RequestStage(ctx context.Context) (*stage.Stage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.latest == nil || (w.applied != nil && w.latest.Equal(w.applied)) {
		return nil, nil
	}
	s, err := Diff(w.applied, w.latest, w.registry)
	if err != nil {
		// reported once; the next write retries
		w.latest = nil
		return nil, err
	}
	if s == nil {
		w.applied = w.latest
		return nil, nil
	}
	w.requested = w.latest
	s.Requesters = []string{ManifestWatcherID}
	return s, nil
}

func (w *ManifestWatcher) EnterStage(ctx context.Context, s stage.Stage) error {
	if !slices.Contains(s.Requesters, ManifestWatcherID) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.requested != nil {
		w.applied = w.requested
		w.requested = nil
	}
	return nil
}

// Diff returns the stage turning a stack built from from into one built from
// to, or nil if they select the same kinds and config. Config keys removed in
// to are left as they are.
func Diff(from, to *plugins.Manifest, reg *plugins.Registry) (*stage.Stage, error) {
	var change stack.Change

	prev := make(map[string]plugins.ManifestEntry)
	var prevConfig plugins.Config
	if from != nil {
		for _, e := range from.Plugins {
			prev[e.Kind] = e
		}
		prevConfig = from.Config
	}

	next := make(map[string]bool, len(to.Plugins))
	for _, e := range to.Plugins {
		next[e.Kind] = true
		if old, ok := prev[e.Kind]; ok && old.Version == e.Version {
			continue
		}
		k, err := reg.Resolve(e.Kind, e.Version)
		if err != nil {
			return nil, err
		}
		change.Add = append(change.Add, k)
	}
	if from != nil {
		for _, e := range from.Plugins {
			if !next[e.Kind] {
				change.Remove = append(change.Remove, e.Kind)
			}
		}
	}

	for key, v := range to.Config {
		if old, ok := prevConfig[key]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if change.Config == nil {
			change.Config = plugins.Config{}
		}
		change.Config[key] = v
	}

	if change.IsZero() {
		return nil, nil
	}
	kind := stage.Configuration
	if change.Composition() {
		kind = stage.Extension
	}
	return &stage.Stage{Kind: kind, Change: change, Reason: "manifest changed"}, nil
}

// ManifestWatcherKind creates the manifest-watcher kind resolving against
// reg. The path is read from manifest.path.
func ManifestWatcherKind(reg *plugins.Registry) *plugins.Kind {
	return &plugins.Kind{
		ID:          ManifestWatcherID,
		Version:     "1.0.0",
		Description: "Requests stages when the stack manifest changes",
		Symbol:      ManifestWatcherID,
		New: func(_ []plugins.Plugin, cfg plugins.Config) (plugins.Plugin, error) {
			return NewManifestWatcher(cfg.String("manifest.path", ""), reg), nil
		},
	}
}
