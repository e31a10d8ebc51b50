// Package assets discovers OBJ asset directories, parses them on demand and
// pushes re-parsed assets to subscribers when their files change.
package assets

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/objwatch/internal/config"
	"github.com/Faultbox/objwatch/internal/logger"
	"github.com/Faultbox/objwatch/pkg/formats"
)

// Asset manager errors.
var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrMissingOBJ   = errors.New("asset directory has no .obj file")
	ErrMissingMTL   = errors.New("asset directory has no .mtl file")
	ErrClosed       = errors.New("asset manager closed")
)

// watch is the eagerly created change stream of one asset.
type watch struct {
	name     string
	dir      string
	throttle *throttle

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func (w *watch) snapshot() []*Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	subs := make([]*Subscription, 0, len(w.subs))
	for s := range w.subs {
		subs = append(subs, s)
	}
	return subs
}

// Manager maps asset names to directories and builds Asset values from them.
// Parsing runs synchronously inside the calling goroutine; a very large OBJ
// file occupies that goroutine for the whole parse.
type Manager struct {
	root      string
	window    time.Duration
	imageExts []string
	buffer    int
	dedupe    bool
	log       *zap.Logger

	paths   map[string]string // Asset name -> directory, fixed after NewManager
	watches map[string]*watch // Asset name -> change stream
	byDir   map[string]*watch

	group   singleflight.Group
	watcher *fsnotify.Watcher
	read    func(name string) // Called after an asset's files are read; tests only
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewManager scans cfg.Root for assets and starts watching every asset
// directory, whether or not anyone subscribes.
func NewManager(cfg config.AssetsConfig, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Named("assets")
	}

	m := &Manager{
		root:      filepath.Clean(cfg.Root),
		window:    cfg.ThrottleWindow,
		imageExts: cfg.ImageExtensions,
		buffer:    cfg.SubscriberBuffer,
		dedupe:    cfg.DedupeFetches,
		log:       log,
		watches:   make(map[string]*watch),
		byDir:     make(map[string]*watch),
		done:      make(chan struct{}),
	}
	if m.window <= 0 {
		m.window = 2 * time.Second
	}
	if m.buffer < 1 {
		m.buffer = 1
	}

	paths, err := discover(m.root, log)
	if err != nil {
		return nil, err
	}
	m.paths = paths

	m.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}

	for name, dir := range paths {
		w := &watch{
			name: name,
			dir:  dir,
			subs: make(map[*Subscription]struct{}),
		}
		w.throttle = newThrottle(m.window, func() { m.refresh(w) })

		if err := m.watcher.Add(dir); err != nil {
			m.watcher.Close()
			return nil, errors.Wrapf(err, "watching %s", dir)
		}
		m.watches[name] = w
		m.byDir[dir] = w
	}

	m.wg.Add(1)
	go m.watchLoop()

	log.Info("asset manager ready",
		zap.String("root", m.root),
		zap.Int("assets", len(paths)),
		zap.Duration("throttle", m.window))

	return m, nil
}

// Names returns all discovered asset names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.paths))
	for name := range m.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the directory of an asset.
func (m *Manager) Path(name string) (string, bool) {
	dir, ok := m.paths[name]
	return dir, ok
}

// Fetch reads and parses the named asset. Concurrent fetches of the same
// name share one read and parse when dedupe is enabled. ctx only gates the
// file reads; a parse that has started runs to completion.
func (m *Manager) Fetch(ctx context.Context, name string) (*Asset, error) {
	dir, ok := m.paths[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAsset, "asset %q", name)
	}

	if !m.dedupe {
		return m.load(ctx, name, dir)
	}

	v, err, shared := m.group.Do(name, func() (any, error) {
		// One caller's cancellation must not fail the others.
		return m.load(context.WithoutCancel(ctx), name, dir)
	})
	if shared {
		m.log.Debug("shared in-flight fetch", zap.String("asset", name))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Asset), nil
}

// load builds one Asset from disk.
func (m *Manager) load(ctx context.Context, name, dir string) (*Asset, error) {
	start := time.Now()

	files, err := listFiles(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q", name)
	}
	sel := partitionFiles(files, m.imageExts)
	if sel.obj == "" {
		return nil, errors.Wrapf(ErrMissingOBJ, "asset %q", name)
	}
	if sel.mtl == "" {
		return nil, errors.Wrapf(ErrMissingMTL, "asset %q", name)
	}

	contents, err := readFiles(ctx, dir, sel.names())
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q", name)
	}
	if m.read != nil {
		m.read(name)
	}

	obj, err := formats.ParseOBJ(contents[sel.obj])
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q: parsing %s", name, sel.obj)
	}
	mtl, err := formats.ParseMTL(contents[sel.mtl])
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q: parsing %s", name, sel.mtl)
	}
	m.logWarnings(name, sel.obj, obj.Warnings)
	m.logWarnings(name, sel.mtl, mtl.Warnings)

	images := make(map[string][]byte, len(sel.images))
	for _, img := range sel.images {
		data := contents[img]
		if !filetype.IsImage(data) {
			m.log.Warn("texture file is not a recognized image",
				zap.String("asset", name), zap.String("file", img))
		}
		images[img] = data
	}

	asset := &Asset{
		Name:          name,
		Objects:       obj.Objects,
		Materials:     mtl.Materials,
		ImageTextures: images,
		ObjectOrder:   obj.Order,
		MaterialLibs:  obj.MaterialLibs,
		ObjFile:       sel.obj,
		MtlFile:       sel.mtl,
		WarningCount:  len(obj.Warnings) + len(mtl.Warnings),
	}

	m.log.Debug("asset fetched",
		zap.String("asset", name),
		zap.Int("objects", len(asset.Objects)),
		zap.Int("materials", len(asset.Materials)),
		zap.Int("images", len(images)),
		zap.Duration("took", time.Since(start)))

	return asset, nil
}

func (m *Manager) logWarnings(asset, file string, warnings []formats.LineWarning) {
	for _, w := range warnings {
		m.log.Warn("skipped line",
			zap.String("asset", asset),
			zap.String("file", file),
			zap.Int("line", w.Line),
			zap.Error(w.Err))
	}
}

// Subscribe returns a subscription to change-driven refreshes of an asset.
func (m *Manager) Subscribe(name string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	w, ok := m.watches[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAsset, "asset %q", name)
	}

	sub := newSubscription(name, m.buffer, m.log, func(s *Subscription) {
		w.mu.Lock()
		delete(w.subs, s)
		w.mu.Unlock()
	})

	w.mu.Lock()
	w.subs[sub] = struct{}{}
	w.mu.Unlock()

	m.log.Debug("subscribed", zap.String("asset", name))
	return sub, nil
}

// Subscribers returns the number of open subscriptions for an asset.
func (m *Manager) Subscribers(name string) int {
	w, ok := m.watches[name]
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// watchLoop routes file system events to the owning asset's throttle.
func (m *Manager) watchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) handleEvent(ev fsnotify.Event) {
	// Permission changes alone do not alter content.
	if ev.Op == fsnotify.Chmod {
		return
	}

	w, ok := m.byDir[filepath.Dir(ev.Name)]
	if !ok {
		// Events on the watched directory itself.
		w, ok = m.byDir[filepath.Clean(ev.Name)]
	}
	if !ok {
		return
	}

	m.log.Debug("asset changed",
		zap.String("asset", w.name),
		zap.String("file", filepath.Base(ev.Name)),
		zap.String("op", ev.Op.String()))
	w.throttle.Trigger()
}

// refresh re-reads an asset and delivers the result to every subscriber.
// It never joins an in-flight Fetch, which may have read the files before
// the change.
func (m *Manager) refresh(w *watch) {
	subs := w.snapshot()
	if len(subs) == 0 {
		m.log.Debug("change without subscribers", zap.String("asset", w.name))
		return
	}

	asset, err := m.load(context.Background(), w.name, w.dir)
	if err != nil {
		m.log.Warn("refresh failed", zap.String("asset", w.name), zap.Error(err))
	} else {
		m.log.Info("asset refreshed", zap.String("asset", w.name), zap.Int("subscribers", len(subs)))
	}

	u := Update{Asset: asset, Err: err}
	for _, s := range subs {
		s.deliver(u)
	}
}

// Close stops watching and closes every subscription.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, w := range m.watches {
		w.throttle.Stop()
	}
	close(m.done)
	err := m.watcher.Close()
	m.wg.Wait()

	for _, w := range m.watches {
		for _, s := range w.snapshot() {
			s.Close()
		}
	}
	return err
}
