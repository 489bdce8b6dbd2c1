package autoload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/fpvosd/pkg/config"
)

type recordingAttacher struct {
	mu       sync.Mutex
	attached []string
	err      error
}

func (r *recordingAttacher) AttachSubtitle(ctx context.Context, item Item, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.attached = append(r.attached, uri)
	return nil
}

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/videos/DJIG0001.mp4", "/videos/DJIG0001.osd"},
		{"file:///videos/DJIG0001.mp4", "file:///videos/DJIG0001.osd"},
		{"/videos/flight.one/DJIG0001", "/videos/flight.one/DJIG0001.osd"},
		{"/videos/archive.tar.mp4", "/videos/archive.tar.osd"},
		{"DJIG0001", "DJIG0001.osd"},
		{"", ".osd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.in, ".osd"), tt.in)
	}
}

func TestLocalPath(t *testing.T) {
	p, ok := LocalPath("file:///videos/a%20b.mp4")
	assert.True(t, ok)
	assert.Equal(t, "/videos/a b.mp4", p)

	p, ok = LocalPath("/videos/a.mp4")
	assert.True(t, ok)
	assert.Equal(t, "/videos/a.mp4", p)

	_, ok = LocalPath("https://example.com/a.mp4")
	assert.False(t, ok)
}

func TestOnItemOpened(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "DJIG0007.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DJIG0007.osd"), []byte("osd"), 0o644))
	lonely := filepath.Join(dir, "DJIG0008.mp4")
	require.NoError(t, os.WriteFile(lonely, []byte("video"), 0o644))

	ctx := context.Background()
	attacher := &recordingAttacher{}
	w := NewWatcher(attacher, true)

	ok, err := w.OnItemOpened(ctx, Item{URI: "file://" + video, Type: ItemTypeFile})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"file://" + filepath.Join(dir, "DJIG0007.osd")}, attacher.attached)

	ok, err = w.OnItemOpened(ctx, Item{URI: lonely, Type: ItemTypeFile})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.OnItemOpened(ctx, Item{URI: video, Type: ItemTypeStream})
	require.NoError(t, err)
	assert.False(t, ok)

	w.Set(false)
	ok, err = w.OnItemOpened(ctx, Item{URI: video, Type: ItemTypeFile})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, attacher.attached, 1)

	w.Set(true)
	attacher.err = errors.New("playlist locked")
	_, err = w.OnItemOpened(ctx, Item{URI: video, Type: ItemTypeFile})
	assert.ErrorIs(t, err, attacher.err)
}

func TestFollowConfig(t *testing.T) {
	store := config.NewStore(nil)
	w := NewWatcher(&recordingAttacher{}, false)
	w.Follow(store)
	defer w.Close()

	assert.True(t, w.Enabled())

	require.NoError(t, store.SetVar(config.VarAutoload, "false"))
	assert.False(t, w.Enabled())

	require.NoError(t, store.SetVar(config.VarFPS, "30"))
	assert.False(t, w.Enabled())

	w.Close()
	require.NoError(t, store.SetVar(config.VarAutoload, "true"))
	assert.False(t, w.Enabled())
}

func TestEnabledConcurrent(t *testing.T) {
	w := NewWatcher(&recordingAttacher{}, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Set(j%2 == 0)
				_ = w.Enabled()
			}
		}(i)
	}
	wg.Wait()
}
