package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/evalgo/forgecache/cas"
)

// treeEntry is one file in a materialized directory tree: its
// slash-separated relative path and the CAS object holding its bytes.
type treeEntry struct {
	Path string     `json:"path"`
	Data cas.DataID `json:"data"`
}

// materializeTree fetches the manifest object at treeID and writes
// every entry it lists into destDir, creating parent directories as
// needed. destDir must already exist.
func materializeTree(ctx context.Context, store cas.Store, treeID cas.DataID, destDir string) error {
	manifestObj, err := store.Get(ctx, treeID)
	if err != nil {
		return fmt.Errorf("fetching tree manifest %s: %w", treeID, err)
	}
	var entries []treeEntry
	if err := json.Unmarshal(manifestObj.Data, &entries); err != nil {
		return fmt.Errorf("decoding tree manifest %s: %w", treeID, err)
	}

	for _, entry := range entries {
		fileObj, err := store.Get(ctx, entry.Data)
		if err != nil {
			return fmt.Errorf("fetching tree entry %s (%s): %w", entry.Path, entry.Data, err)
		}
		full := filepath.Join(destDir, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", entry.Path, err)
		}
		if err := os.WriteFile(full, fileObj.Data, 0o644); err != nil {
			return fmt.Errorf("writing tree entry %s: %w", entry.Path, err)
		}
	}
	return nil
}

// importTree walks dir and stores every regular file as its own CAS
// object, then stores a sorted manifest of {path, data} referencing
// them all, returning the manifest's DataID as the tree-id.
func importTree(ctx context.Context, store cas.Store, dir string) (cas.DataID, error) {
	var entries []treeEntry

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := store.Put(ctx, cas.Object{Data: data})
		if err != nil {
			return err
		}
		entries = append(entries, treeEntry{Path: filepath.ToSlash(rel), Data: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("importing tree from %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	refs := make([]cas.DataID, len(entries))
	for i, e := range entries {
		refs[i] = e.Data
	}
	manifest, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding tree manifest for %s: %w", dir, err)
	}

	id, err := store.Put(ctx, cas.Object{Refs: refs, Data: manifest})
	if err != nil {
		return "", fmt.Errorf("storing tree manifest for %s: %w", dir, err)
	}
	return id, nil
}
