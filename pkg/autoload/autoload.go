package autoload

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/fpvosd/pkg/config"
)

const CompanionExt = ".osd"

// ItemType mirrors the host's input item kinds; only plain files get a
// companion lookup.
type ItemType int

const (
	ItemTypeFile ItemType = iota
	ItemTypeDirectory
	ItemTypeStream
	ItemTypeOther
)

type Item struct {
	URI  string
	Type ItemType
}

// Attacher adds a subtitle slave to an opened item.
type Attacher interface {
	AttachSubtitle(ctx context.Context, item Item, uri string) error
}

// Watcher attaches the recorder's .osd file when the matching video is
// opened.
type Watcher struct {
	mu       sync.Mutex
	enabled  bool
	attacher Attacher
	stat     func(string) (os.FileInfo, error)
	cancel   func()
}

func NewWatcher(attacher Attacher, enabled bool) *Watcher {
	return &Watcher{enabled: enabled, attacher: attacher, stat: os.Stat}
}

// Follow keeps the enabled flag in step with the store's autoload setting.
func (w *Watcher) Follow(store *config.Store) {
	w.Set(store.Get().Autoload)
	cancel := store.Subscribe(func(name string, cfg config.Config) {
		if name == config.VarAutoload {
			w.Set(cfg.Autoload)
		}
	})

	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = cancel
	w.mu.Unlock()
}

func (w *Watcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *Watcher) Set(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// Close detaches from the config store.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// OnItemOpened looks for a companion file next to a local media file and
// attaches it. It reports whether a companion was attached.
func (w *Watcher) OnItemOpened(ctx context.Context, item Item) (bool, error) {
	if !w.Enabled() || item.Type != ItemTypeFile {
		return false, nil
	}

	path, ok := LocalPath(item.URI)
	if !ok {
		return false, nil
	}

	companion := ReplaceExt(path, CompanionExt)
	info, err := w.stat(companion)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	uri := ReplaceExt(item.URI, CompanionExt)
	if err := w.attacher.AttachSubtitle(ctx, item, uri); err != nil {
		return false, err
	}

	log.Info().Str("item", item.URI).Str("osd", uri).Msg("attached OSD companion file")
	return true, nil
}

// ReplaceExt swaps the extension of the last path element for ext, or
// appends ext when there is none.
func ReplaceExt(uri, ext string) string {
	slash := strings.LastIndexByte(uri, '/')
	dot := strings.LastIndexByte(uri, '.')
	if dot <= slash {
		return uri + ext
	}
	return uri[:dot] + ext
}

// LocalPath returns the filesystem path of a file:// URI or a bare path.
func LocalPath(uri string) (string, bool) {
	if !strings.Contains(uri, "://") {
		return uri, uri != ""
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, u.Path != ""
}
