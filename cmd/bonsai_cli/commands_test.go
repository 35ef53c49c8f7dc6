package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/bonsaidb/config"
	"github.com/sushant-115/bonsaidb/core/indexmanager"
)

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataFile = filepath.Join(dir, "cli.db")
	cfg.Storage.PageSize = 8192
	cfg.WAL.Dir = filepath.Join(dir, "wal")

	ctx := context.Background()
	m, err := indexmanager.NewBonsaiIndexManager(ctx, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	bag, err := indexmanager.OpenRidBag(ctx, m)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &session{m: m, bag: bag, out: out}, out
}

func runLine(t *testing.T, s *session, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, s.processCommand(context.Background(), strings.Fields(line)))
	return out.String()
}

func TestProcessCommand(t *testing.T) {
	s, out := newTestSession(t)

	require.Equal(t, "OK\n", runLine(t, s, out, "put #12:5 3"))
	require.Equal(t, "OK\n", runLine(t, s, out, "put 12:1 7"))
	require.Equal(t, "#12:5 = 3\n", runLine(t, s, out, "get #12:5"))
	require.Equal(t, "NOT_FOUND\n", runLine(t, s, out, "get #1:1"))
	require.Equal(t, "#12:1 = 7\n#12:5 = 3\n(2 entries)\n", runLine(t, s, out, "dump"))
	require.Contains(t, runLine(t, s, out, "stats"), "entries=2 tree_size=2")

	require.Equal(t, "OK\n", runLine(t, s, out, "del #12:5"))
	require.Equal(t, "NOT_FOUND\n", runLine(t, s, out, "del #12:5"))
	require.Equal(t, "page 2\n", runLine(t, s, out, "alloc"))
	require.Contains(t, runLine(t, s, out, "flush"), "checkpoint ")
	require.Contains(t, runLine(t, s, out, "backup "+filepath.Join(t.TempDir(), "b.db")), "sha256 ")

	require.Equal(t, "OK\n", runLine(t, s, out, "format"))
	require.Equal(t, "(0 entries)\n", runLine(t, s, out, "dump"))
	require.Contains(t, runLine(t, s, out, "help"), "backup <path>")
}

func TestProcessCommand_Errors(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	require.Error(t, s.processCommand(ctx, nil))
	require.Error(t, s.processCommand(ctx, []string{"put", "#1:1"}))
	require.Error(t, s.processCommand(ctx, []string{"put", "nope", "1"}))
	require.Error(t, s.processCommand(ctx, []string{"put", "#1:1", "x"}))
	require.Error(t, s.processCommand(ctx, []string{"put", "#1:1", "-4"}))
	require.Error(t, s.processCommand(ctx, []string{"frobnicate"}))
	require.ErrorIs(t, s.processCommand(ctx, []string{"quit"}), errQuit)
}
