// Package suspicion layers heuristic abuse detection on top of the raw
// admission counters: per-request signal scoring, a sticky flagged-source
// set, and a registry of detected attacks kept for audit.
package suspicion

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reqguard/internal/models"
)

// Analyzer produces suspicion signals for one request. The built-in
// analyzers cover frequency and client-agent heuristics; hosts can
// register further analyzers for patterns the stock set does not see.
type Analyzer interface {
	Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal
}

// Detector scores requests, maintains the sticky flagged set, and tracks
// attack records. Safe for concurrent use.
type Detector struct {
	cfg       models.SuspicionConfig
	analyzers []Analyzer
	now       func() time.Time

	mu      sync.RWMutex
	flagged map[string]struct{}
	attacks map[string]*models.AttackRecord
	history []*models.AttackRecord
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithAnalyzer registers an additional analyzer after the built-in set.
func WithAnalyzer(a Analyzer) DetectorOption {
	return func(d *Detector) {
		if a != nil {
			d.analyzers = append(d.analyzers, a)
		}
	}
}

// NewDetector creates a detector with the built-in analyzers driven by
// the given heuristic tables.
func NewDetector(cfg models.SuspicionConfig, opts ...DetectorOption) *Detector {
	d := &Detector{
		cfg:     cfg,
		now:     time.Now,
		flagged: make(map[string]struct{}),
		attacks: make(map[string]*models.AttackRecord),
	}
	d.analyzers = []Analyzer{
		&frequencyAnalyzer{threshold: cfg.HighFrequencyThreshold},
		&clientAgentAnalyzer{
			markers:         cfg.BotMarkers,
			expectedHeaders: cfg.ExpectedHeaders,
			score:           cfg.BotScore,
		},
		&patternAnalyzer{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze runs all analyzers against the request and its counter entry.
func (d *Detector) Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal {
	var signals []models.Signal
	for _, a := range d.analyzers {
		signals = append(signals, a.Analyze(meta, entry)...)
	}
	return signals
}

// ShouldBlock reports whether the source must be refused. An already
// flagged source is refused without rescoring; otherwise the summed
// signal score is compared against the flag threshold, and crossing it
// flags the source stickily until an administrative clear.
func (d *Detector) ShouldBlock(source string, signals []models.Signal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.flagged[source]; ok {
		return true
	}

	total := 0
	for _, s := range signals {
		total += s.Score
	}
	if total <= d.cfg.FlagThreshold {
		return false
	}

	// Coarse safety valve, not a correctness requirement: drop the whole
	// set rather than grow without bound.
	if d.cfg.MaxFlaggedSources > 0 && len(d.flagged) >= d.cfg.MaxFlaggedSources {
		slog.Warn("flagged source set reached its bound, clearing",
			"size", len(d.flagged),
		)
		d.flagged = make(map[string]struct{})
	}

	d.flagged[source] = struct{}{}
	slog.Warn("source flagged", "source", source, "score", total)
	return true
}

// IsFlagged reports whether a source is currently flagged.
func (d *Detector) IsFlagged(source string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.flagged[source]
	return ok
}

// ClearFlag removes a source from the flagged set.
func (d *Detector) ClearFlag(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.flagged, source)
}

// FlaggedCount reports the size of the flagged set.
func (d *Detector) FlaggedCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.flagged)
}

// Classify picks the most relevant attack type for a refused request.
func (d *Detector) Classify(meta models.RequestMeta, signals []models.Signal) models.AttackType {
	path := strings.ToLower(meta.Path)
	if strings.Contains(path, "login") || strings.Contains(path, "auth") {
		return models.AttackBruteForce
	}
	for _, s := range signals {
		if s.Type == models.SignalHighFrequency && s.Score >= 80 {
			return models.AttackFlood
		}
	}
	for _, s := range signals {
		if s.Type == models.SignalBotBehavior {
			return models.AttackScraping
		}
	}
	return models.AttackAPIAbuse
}

// RecordAttack upserts the attack record for a type+source pair. An
// active record is merged (count bumped, last-seen refreshed); an idle or
// absent one starts a fresh episode, with the superseded record retained
// for audit.
func (d *Detector) RecordAttack(attackType models.AttackType, source string, count int64) {
	now := d.now()
	key := string(attackType) + "|" + source

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.attacks[key]; ok && existing.Active {
		existing.RequestCount += count
		existing.LastSeen = now
		return
	}
	if existing, ok := d.attacks[key]; ok {
		d.history = append(d.history, existing)
	}

	d.attacks[key] = &models.AttackRecord{
		ID:           uuid.New().String(),
		Type:         attackType,
		Source:       source,
		StartTime:    now,
		LastSeen:     now,
		RequestCount: count,
		Active:       true,
		Mitigations:  models.MitigationsFor(attackType),
	}
}

// Sweep deactivates attack records idle past the staleness window.
// Records are kept for audit, never deleted here.
func (d *Detector) Sweep() {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, record := range d.attacks {
		if record.Active && now.Sub(record.LastSeen) > d.cfg.AttackStaleAfter {
			record.Active = false
		}
	}
}

// ActiveAttacks returns copies of the currently active attack records.
func (d *Detector) ActiveAttacks() []*models.AttackRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var active []*models.AttackRecord
	for _, record := range d.attacks {
		if record.Active {
			active = append(active, record.Clone())
		}
	}
	return active
}

// Attacks returns copies of all attack records, current and historical.
func (d *Detector) Attacks() []*models.AttackRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*models.AttackRecord, 0, len(d.attacks)+len(d.history))
	for _, record := range d.history {
		all = append(all, record.Clone())
	}
	for _, record := range d.attacks {
		all = append(all, record.Clone())
	}
	return all
}

// Purge drops inactive and historical records. Explicit administrative
// action only.
func (d *Detector) Purge() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := len(d.history)
	d.history = nil
	for key, record := range d.attacks {
		if !record.Active {
			delete(d.attacks, key)
			removed++
		}
	}
	return removed
}

// frequencyAnalyzer fires when the per-window count exceeds an internal
// threshold independent of the governing rule's own limit. The score
// scales with the excess, capped at 100.
type frequencyAnalyzer struct {
	threshold int64
}

func (f *frequencyAnalyzer) Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal {
	if entry == nil || f.threshold <= 0 || entry.Count <= f.threshold {
		return nil
	}
	score := int(entry.Count-f.threshold) * 10
	if score > 100 {
		score = 100
	}
	return []models.Signal{{
		Type:   models.SignalHighFrequency,
		Score:  score,
		Detail: fmt.Sprintf("%d requests in window", entry.Count),
	}}
}

// clientAgentAnalyzer fires on known automation markers in the declared
// client agent, and on requests missing more than one commonly-present
// header. Both findings carry the same fixed score.
type clientAgentAnalyzer struct {
	markers         []string
	expectedHeaders []string
	score           int
}

func (c *clientAgentAnalyzer) Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal {
	var signals []models.Signal

	agent := strings.ToLower(meta.DeclaredClientAgent)
	for _, marker := range c.markers {
		if marker != "" && strings.Contains(agent, marker) {
			signals = append(signals, models.Signal{
				Type:   models.SignalBotBehavior,
				Score:  c.score,
				Detail: "client agent matches " + marker,
			})
			break
		}
	}

	missing := 0
	for _, header := range c.expectedHeaders {
		if !meta.HasHeader(header) {
			missing++
		}
	}
	if len(c.expectedHeaders) > 0 && missing > 1 {
		signals = append(signals, models.Signal{
			Type:   models.SignalBotBehavior,
			Score:  c.score,
			Detail: fmt.Sprintf("%d expected headers missing", missing),
		})
	}

	return signals
}

// patternAnalyzer is the reserved seam for sequential endpoint probing
// and similar shape heuristics. It produces no signals yet.
type patternAnalyzer struct{}

func (p *patternAnalyzer) Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal {
	return nil
}
