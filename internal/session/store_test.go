package session_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/session"
)

func openStore(t *testing.T) (*session.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := session.Open(dir)
	require.NoError(t, err)
	return st, dir
}

func TestDataDir_EnvOverride(t *testing.T) {
	t.Setenv("CODELET_DATA_DIR", "/tmp/custom-codelet")
	dir, err := session.DataDir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-codelet", dir)

	t.Setenv("CODELET_DATA_DIR", "")
	dir, err = session.DataDir()
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(dir, ".codelet"), "default dir should end in .codelet: %s", dir)
}

func TestStore_SaveLoad_RoundTrip(t *testing.T) {
	st, dir := openStore(t)

	m := session.NewManifest("review", "proj", "claude")
	appendText(t, m, persist.RoleUser, "hello")
	appendText(t, m, persist.RoleAssistant, "hi")
	require.NoError(t, st.Save(m))

	// One manifest file per session, named by uuid.
	_, err := os.Stat(filepath.Join(dir, "sessions", m.ID.String()+".json"))
	require.NoError(t, err)

	state, err := st.Load(m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ID, state.Manifest.ID)
	require.Len(t, state.Manifest.Envelopes, 2)
	require.Len(t, state.Turns, 1)
}

func TestStore_Load_Missing(t *testing.T) {
	st, _ := openStore(t)
	_, err := st.Load(uuid.New())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestStore_Save_LargePayloadLandsInBlobDir(t *testing.T) {
	st, dir := openStore(t)

	m := session.NewManifest("big", "proj", "claude")
	id := appendText(t, m, persist.RoleUser, "run it")
	result := envelope(persist.RoleUser, &id,
		persist.ToolResultBlock{ToolUseID: "t1", Content: strings.Repeat("x", persist.BlobThreshold+1)})
	require.NoError(t, m.Append(result))
	require.NoError(t, st.Save(m))

	// The oversized payload lives under blobs/, not in the manifest.
	manifest, err := os.ReadFile(filepath.Join(dir, "sessions", m.ID.String()+".json"))
	require.NoError(t, err)
	require.Less(t, len(manifest), persist.BlobThreshold)

	shards, err := os.ReadDir(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	require.NotEmpty(t, shards)

	state, err := st.Load(m.ID)
	require.NoError(t, err)
	got := state.Manifest.Envelopes[1].Content[0].(persist.ToolResultBlock)
	require.Len(t, got.Content, persist.BlobThreshold+1)
}

func TestStore_List_FiltersAndSortsNewestFirst(t *testing.T) {
	st, _ := openStore(t)

	a := session.NewManifest("a", "alpha", "claude")
	appendText(t, a, persist.RoleUser, "one")
	require.NoError(t, st.Save(a))

	b := session.NewManifest("b", "alpha", "claude")
	b.UpdatedAt = b.UpdatedAt.Add(time.Hour)
	require.NoError(t, st.Save(b))

	c := session.NewManifest("c", "beta", "claude")
	require.NoError(t, st.Save(c))

	alpha, err := st.List("alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	require.Equal(t, b.ID, alpha[0].ID, "newest first")
	require.Equal(t, a.ID, alpha[1].ID)
	require.Equal(t, 1, alpha[1].Messages)

	all, err := st.List("")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestStore_ResumeLast(t *testing.T) {
	st, _ := openStore(t)

	_, ok, err := st.ResumeLast("alpha")
	require.NoError(t, err)
	require.False(t, ok)

	old := session.NewManifest("old", "alpha", "claude")
	appendText(t, old, persist.RoleUser, "earlier")
	require.NoError(t, st.Save(old))

	recent := session.NewManifest("recent", "alpha", "claude")
	appendText(t, recent, persist.RoleUser, "later")
	recent.UpdatedAt = recent.UpdatedAt.Add(time.Hour)
	require.NoError(t, st.Save(recent))

	state, ok, err := st.ResumeLast("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, recent.ID, state.Manifest.ID)
}

func TestStore_Rename(t *testing.T) {
	st, _ := openStore(t)
	m := session.NewManifest("", "proj", "claude")
	appendText(t, m, persist.RoleUser, "hi")
	require.NoError(t, st.Save(m))

	require.NoError(t, st.Rename(m.ID, "named at last"))
	state, err := st.Load(m.ID)
	require.NoError(t, err)
	require.Equal(t, "named at last", state.Manifest.Name)
}

func TestStore_Delete_KeepsBlobs(t *testing.T) {
	st, dir := openStore(t)
	m := session.NewManifest("doomed", "proj", "claude")
	id := appendText(t, m, persist.RoleUser, "run")
	result := envelope(persist.RoleUser, &id,
		persist.ToolResultBlock{ToolUseID: "t1", Content: strings.Repeat("y", persist.BlobThreshold+1)})
	require.NoError(t, m.Append(result))
	require.NoError(t, st.Save(m))

	require.NoError(t, st.Delete(m.ID))
	_, err := st.Load(m.ID)
	require.Error(t, err)

	// Blobs are shared across sessions and survive manifest deletion.
	shards, err := os.ReadDir(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	require.NotEmpty(t, shards)

	require.Error(t, st.Delete(m.ID), "second delete reports not found")
}
