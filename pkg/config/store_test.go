package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.SetSection("engine", map[string]interface{}{
		"debounce_window": "2s",
	}); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}

	if !store.IsModified() {
		t.Error("store should be modified after SetSection")
	}

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if store.IsModified() {
		t.Error("store should not be modified after Save")
	}

	// A fresh store reads the persisted data back.
	restored, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore (restore) failed: %v", err)
	}

	data, err := restored.GetSection("engine")
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	if data["debounce_window"] != "2s" {
		t.Errorf("expected debounce_window 2s, got %v", data["debounce_window"])
	}
}

func TestFileStoreMissingFileYieldsEmptyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	data, err := store.GetSection("engine")
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty section, got %v", data)
	}
}

func TestFileStoreGetSectionReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.SetSection("llm", map[string]interface{}{"model": "gpt-4o-mini"}); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}

	data, _ := store.GetSection("llm")
	data["model"] = "tampered"

	fresh, _ := store.GetSection("llm")
	if fresh["model"] != "gpt-4o-mini" {
		t.Errorf("internal state mutated through returned map: %v", fresh["model"])
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := NewFileStore(path); err == nil {
		t.Error("expected error for corrupt config file")
	}
}

func TestFileStoreSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}
