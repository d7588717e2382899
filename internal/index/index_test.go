package index_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deskrouter/deskrouter/internal/index"
	"github.com/deskrouter/deskrouter/pkg/models"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	return path
}

func TestBuiltinDefaults(t *testing.T) {
	idx, err := index.New("", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want 4 builtin profiles", idx.Count())
	}
	for _, id := range []string{"technical", "billing", "security", "general"} {
		if _, ok := idx.Get(id); !ok {
			t.Errorf("builtin profile %q missing", id)
		}
	}
}

func TestLoadFile_RejectsMalformedKeepsValid(t *testing.T) {
	path := writeProfiles(t, `[
		{"id":"payments","name":"Payments","category":"billing",
		 "keywords":["chargeback"],"confidence_threshold":0.5,"historical_success_rate":91},
		{"id":"broken","category":"billing",
		 "keywords":["x"],"confidence_threshold":0.5,"historical_success_rate":50},
		{"id":"outlier","name":"Outlier","category":"billing",
		 "keywords":["y"],"confidence_threshold":1.5,"historical_success_rate":50}
	]`)

	idx, err := index.New(path, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, ok := idx.Get("payments"); !ok {
		t.Error("valid profile payments not loaded")
	}
	if _, ok := idx.Get("broken"); ok {
		t.Error("profile without name should be rejected")
	}
	if _, ok := idx.Get("outlier"); ok {
		t.Error("profile with threshold outside [0,1] should be rejected")
	}
	if _, ok := idx.Get("technical"); !ok {
		t.Error("builtin defaults should survive a file load")
	}
}

func TestLoadFile_UnusableFileDegradesToBuiltins(t *testing.T) {
	path := writeProfiles(t, `not json at all`)

	idx, err := index.New(path, time.Minute)
	if err == nil {
		t.Fatal("New() with unusable file: error = nil, want ConfigError")
	}
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("New() error = %v, want *models.ConfigError", err)
	}
	if idx == nil || idx.Count() != 4 {
		t.Fatal("index should stay usable on builtin defaults")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	idx, err := index.New(filepath.Join(t.TempDir(), "nope.json"), time.Minute)

	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("New() error = %v, want *models.ConfigError", err)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want builtin defaults", idx.Count())
	}
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	path := writeProfiles(t, `[
		{"id":"payments","name":"Payments","category":"billing",
		 "keywords":["chargeback"],"confidence_threshold":0.5,"historical_success_rate":91}
	]`)

	idx, err := index.New(path, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`[
		{"id":"fraud","name":"Fraud","category":"security",
		 "keywords":["chargeback","dispute"],"confidence_threshold":0.6,"historical_success_rate":93}
	]`), 0o644); err != nil {
		t.Fatalf("rewrite profiles: %v", err)
	}

	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, ok := idx.Get("fraud"); !ok {
		t.Error("refreshed profile fraud missing")
	}
	if _, ok := idx.Get("payments"); ok {
		t.Error("stale profile payments survived a wholesale refresh")
	}
	if _, ok := idx.Get("general"); !ok {
		t.Error("builtin defaults should survive a refresh")
	}
}

func TestSnapshot_SortedAndDetached(t *testing.T) {
	idx, _ := index.New("", 0)

	snap := idx.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].ID >= snap[i].ID {
			t.Fatalf("Snapshot() not sorted by id: %v before %v", snap[i-1].ID, snap[i].ID)
		}
	}

	snap[0].Name = "mutated"
	if p, _ := idx.Get(snap[0].ID); p.Name == "mutated" {
		t.Error("Snapshot() shares memory with the index")
	}
}
