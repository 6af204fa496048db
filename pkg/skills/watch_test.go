package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSeesNewSkills(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDiscovery(WithDirs(dir))
	require.NoError(t, err)

	changed := make(chan map[string]*Skill, 4)
	w, err := NewWatcher(d, func(skills map[string]*Skill) {
		changed <- skills
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeSkill(t, dir, "review", reviewSkill)

	select {
	case skills := <-changed:
		assert.Contains(t, skills, "code-review")
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the new skill")
	}
}

func TestWatcherRequiresAnExistingDir(t *testing.T) {
	d, err := NewDiscovery(WithDirs("/definitely/not/a/real/path"))
	require.NoError(t, err)

	_, err = NewWatcher(d, func(map[string]*Skill) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no skill directories")
}

func TestWatcherStopEndsLoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "seed"), 0o755))

	d, err := NewDiscovery(WithDirs(dir))
	require.NoError(t, err)

	w, err := NewWatcher(d, func(map[string]*Skill) {})
	require.NoError(t, err)

	w.Start(context.Background())
	require.NoError(t, w.Stop())
}
