package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sushant-115/bonsaidb/core/indexmanager"
	"github.com/sushant-115/bonsaidb/core/serialization"
)

var errQuit = errors.New("quit")

// session runs commands against one open database.
type session struct {
	m   *indexmanager.BonsaiIndexManager
	bag *indexmanager.RidBag
	out io.Writer
}

var helpText = []string{
	"Commands:",
	"  put <#cluster:position> <count>",
	"  get <#cluster:position>",
	"  del <#cluster:position>",
	"  dump",
	"  stats",
	"  format            drop every entry of the root bucket",
	"  alloc             allocate an empty page",
	"  flush             write dirty pages and checkpoint",
	"  backup <path>",
	"  help",
	"  exit / quit",
}

// processCommand handles a single command, either from args or interactive
// mode. It returns errQuit when the user asks to leave.
func (s *session) processCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command provided")
	}

	switch strings.ToLower(args[0]) {
	case "put":
		if len(args) != 3 {
			return errors.New("put requires a record id and a count")
		}
		rid, err := serialization.ParseRID(args[1])
		if err != nil {
			return err
		}
		count, err := strconv.ParseInt(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[2], err)
		}
		if err := s.bag.Put(ctx, rid, int32(count)); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
	case "get":
		if len(args) != 2 {
			return errors.New("get requires a record id")
		}
		rid, err := serialization.ParseRID(args[1])
		if err != nil {
			return err
		}
		count, found, err := s.bag.Get(ctx, rid)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(s.out, "NOT_FOUND")
			return nil
		}
		fmt.Fprintf(s.out, "%v = %d\n", rid, count)
	case "del", "delete":
		if len(args) != 2 {
			return errors.New("del requires a record id")
		}
		rid, err := serialization.ParseRID(args[1])
		if err != nil {
			return err
		}
		deleted, err := s.bag.Delete(ctx, rid)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintln(s.out, "NOT_FOUND")
			return nil
		}
		fmt.Fprintln(s.out, "OK")
	case "dump":
		entries, err := s.bag.Entries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "%v = %d\n", e.Key, e.Value)
		}
		fmt.Fprintf(s.out, "(%d entries)\n", len(entries))
	case "stats":
		st, err := s.bag.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "root=%v version=%d entries=%d tree_size=%d free=%d tree_id=%d last_lsn=%d:%d\n",
			s.bag.Root(), st.Version, st.Entries, st.TreeSize, st.FreeSpace, st.Identifier,
			s.m.LastLSN().Segment, s.m.LastLSN().Position)
	case "format":
		if err := s.bag.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
	case "alloc":
		pageID, err := s.m.AllocatePage(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "page %d\n", pageID)
	case "flush":
		if err := s.m.Flush(ctx); err != nil {
			return err
		}
		cp := s.m.Header().CheckpointLSN()
		fmt.Fprintf(s.out, "checkpoint %d:%d\n", cp.Segment, cp.Position)
	case "backup":
		if len(args) != 2 {
			return errors.New("backup requires a destination path")
		}
		digest, err := s.m.Backup(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "sha256 %x\n", digest)
	case "help":
		for _, line := range helpText {
			fmt.Fprintln(s.out, line)
		}
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", args[0])
	}
	return nil
}
