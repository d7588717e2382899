// Package index provides the agent profile database for deskrouter.
//
// The index merges two data sources:
//
//  1. Builtin defaults: a small set of well-known support specialists
//     (technical, billing, security, general) so routing works immediately
//     with zero configuration.
//
//  2. A profile file: a JSON array of AgentProfile records loaded from
//     DESKROUTER_PROFILE_PATH and auto-refreshed on an interval
//     (DESKROUTER_INDEX_REFRESH_INTERVAL, default 5 minutes).
//
// Profiles are validated at load time; malformed records are rejected with a
// logged reason and never reach the scorer. The loaded set is replaced
// wholesale on each refresh under a single-writer/many-reader lock.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskrouter/deskrouter/pkg/models"
)

// Index is a thread-safe, auto-refreshing agent profile registry.
type Index struct {
	mu       sync.RWMutex
	profiles map[string]models.AgentProfile // key: profile id

	path     string
	interval time.Duration
	stopCh   chan struct{}
	running  bool
}

// New creates an index and performs the initial load. A broken profile file
// degrades to builtin defaults and returns the load error wrapped as a
// ConfigError so callers can log it; the index itself stays usable.
func New(path string, interval time.Duration) (*Index, error) {
	idx := &Index{
		profiles: make(map[string]models.AgentProfile),
		path:     path,
		interval: interval,
		stopCh:   make(chan struct{}),
	}

	idx.loadBuiltinDefaults()

	if path == "" {
		return idx, nil
	}
	if err := idx.loadFile(); err != nil {
		return idx, &models.ConfigError{Source: path, Err: err}
	}
	return idx, nil
}

// Start begins the background refresh goroutine.
func (idx *Index) Start(ctx context.Context) {
	if idx.running || idx.path == "" {
		return
	}
	idx.running = true

	go func() {
		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := idx.loadFile(); err != nil {
					log.Warn().Err(err).Str("path", idx.path).Msg("Agent index refresh failed, keeping previous profiles")
				}
			case <-idx.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("refresh_interval", idx.interval).Str("path", idx.path).Msg("Agent index started")
}

// Stop halts the background refresh.
func (idx *Index) Stop() {
	if idx.running {
		close(idx.stopCh)
		idx.running = false
	}
}

// Refresh forces an immediate re-load of the profile file.
func (idx *Index) Refresh(ctx context.Context) error {
	if idx.path == "" {
		return nil
	}
	if err := idx.loadFile(); err != nil {
		return &models.ConfigError{Source: idx.path, Err: err}
	}
	return nil
}

// Get returns the profile for an agent id.
func (idx *Index) Get(id string) (models.AgentProfile, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.profiles[id]
	return p, ok
}

// Snapshot returns an immutable copy of all profiles, ordered by id.
func (idx *Index) Snapshot() []models.AgentProfile {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]models.AgentProfile, 0, len(idx.profiles))
	for _, p := range idx.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded profiles.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.profiles)
}

// ── File Loader ─────────────────────────────────────────────

// loadFile reads, validates, and swaps in the profile file. Builtin defaults
// stay registered underneath so a shrinking file never leaves the index empty.
func (idx *Index) loadFile() error {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}

	var loaded []models.AgentProfile
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("unmarshal profiles: %w", err)
	}

	next := make(map[string]models.AgentProfile, len(loaded))
	rejected := 0
	for i := range loaded {
		p := loaded[i]
		if err := p.Validate(); err != nil {
			rejected++
			log.Warn().Err(err).Msg("Agent index: rejected malformed profile")
			continue
		}
		next[p.ID] = p
	}

	if len(next) == 0 {
		return fmt.Errorf("no valid profiles in %s (%d rejected)", idx.path, rejected)
	}

	idx.mu.Lock()
	idx.profiles = make(map[string]models.AgentProfile, len(next)+len(builtinProfiles))
	for _, p := range builtinProfiles {
		idx.profiles[p.ID] = p
	}
	for id, p := range next {
		idx.profiles[id] = p
	}
	idx.mu.Unlock()

	log.Info().Int("profiles", len(next)).Int("rejected", rejected).Msg("Agent index loaded")
	return nil
}

// ── Builtin Defaults ────────────────────────────────────────

// builtinProfiles keeps routing functional with zero configuration and serves
// as the ConfigError fallback when the profile file is unusable.
var builtinProfiles = []models.AgentProfile{
	{
		ID:                    "technical",
		Name:                  "Technical Support",
		Category:              "technical",
		Keywords:              []string{"webhook", "ssl", "certificate", "api", "error", "integration", "timeout"},
		Expertise:             []string{"debugging", "apis", "certificates"},
		ConfidenceThreshold:   0.7,
		HistoricalSuccessRate: 92,
	},
	{
		ID:                    "billing",
		Name:                  "Billing Support",
		Category:              "billing",
		Keywords:              []string{"invoice", "charge", "refund", "payment", "subscription", "billing"},
		Expertise:             []string{"invoicing", "refunds"},
		ConfidenceThreshold:   0.6,
		HistoricalSuccessRate: 88,
	},
	{
		ID:                    "security",
		Name:                  "Security Support",
		Category:              "security",
		Keywords:              []string{"security", "breach", "password", "access", "vulnerability", "phishing"},
		Expertise:             []string{"incident-response", "account-security"},
		ConfidenceThreshold:   0.75,
		HistoricalSuccessRate: 90,
	},
	{
		ID:                    "general",
		Name:                  "General Support",
		Category:              "general",
		Keywords:              []string{"help", "question", "support", "account"},
		Expertise:             []string{"faq"},
		ConfidenceThreshold:   0.5,
		HistoricalSuccessRate: 85,
	},
}

func (idx *Index) loadBuiltinDefaults() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range builtinProfiles {
		idx.profiles[p.ID] = p
	}
}
