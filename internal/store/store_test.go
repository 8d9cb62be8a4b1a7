package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxorc/orcd/internal/envelope"
	"github.com/tmuxorc/orcd/internal/validate"
)

func TestStore_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1000)
	target, _ := validate.ParseTarget("dev:2")
	b := envelope.NewBuilder("daemon", "core")

	e := b.Build(target, envelope.CategoryStatus, envelope.PriorityNormal, envelope.Content{Body: "hello"})
	require.NoError(t, s.Append(target, e))

	got, err := s.Read(target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Message.Content.Body)

	_, statErr := os.Stat(filepath.Join(dir, "dev_2.json"))
	assert.NoError(t, statErr)
}

func TestStore_OverflowTrimsOldest(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1000)
	target, _ := validate.ParseTarget("t:0")
	b := envelope.NewBuilder("daemon", "core")

	var lastID string
	for i := 0; i < 1200; i++ {
		e := b.Build(target, envelope.CategoryStatus, envelope.PriorityNormal, envelope.Content{Body: "msg"})
		lastID = e.ID
		require.NoError(t, s.Append(target, e))
	}

	got, err := s.Read(target)
	require.NoError(t, err)
	require.Len(t, got, 1000)
	assert.Equal(t, lastID, got[len(got)-1].ID)
}

func TestStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dev_0.json"), []byte("not json"), 0o600))

	s := New(dir, 1000)
	target, _ := validate.ParseTarget("dev:0")
	b := envelope.NewBuilder("daemon", "core")

	e := b.Build(target, envelope.CategoryStatus, envelope.PriorityNormal, envelope.Content{Body: "after corruption"})
	require.NoError(t, s.Append(target, e))

	got, err := s.Read(target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "after corruption", got[0].Message.Content.Body)
}

func TestStore_MissingFileCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "messages")
	s := New(dir, 1000)
	target, _ := validate.ParseTarget("dev:0")
	b := envelope.NewBuilder("daemon", "core")

	e := b.Build(target, envelope.CategoryStatus, envelope.PriorityNormal, envelope.Content{Body: "hi"})
	require.NoError(t, s.Append(target, e))
}
