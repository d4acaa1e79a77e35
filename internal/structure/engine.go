// internal/structure/engine.go

package structure

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

var logger = utils.NewComponentLogger("structure")

// Fetcher is the page-fetch capability the engine depends on.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*internal.PageResult, error)
}

// Engine snapshots pages, persists accepted baselines, and hands out
// per-URL exclusive sections so the check-compare-recover-adopt sequence
// for one page never interleaves with itself.
type Engine struct {
	store   *storage.Store
	fetcher Fetcher
	clock   utils.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine backed by the given store and fetcher.
func New(store *storage.Store, fetcher Fetcher) *Engine {
	return &Engine{
		store:   store,
		fetcher: fetcher,
		clock:   utils.SystemClock(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// WithClock substitutes the time source, primarily for tests.
func (e *Engine) WithClock(clock utils.Clock) *Engine {
	e.clock = clock
	return e
}

// Exclusive runs fn while holding the lock for pageURL. Calls for
// different URLs proceed in parallel; calls for the same URL serialize.
// The lock arena grows with the set of tracked URLs, which configuration
// keeps small.
func (e *Engine) Exclusive(pageURL string, fn func() error) error {
	e.mu.Lock()
	lock, ok := e.locks[pageURL]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[pageURL] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Snapshot fetches the page and fingerprints it against the tracked
// selectors.
func (e *Engine) Snapshot(ctx context.Context, pageURL string, trackedSelectors []string) (*internal.StructureSnapshot, error) {
	page, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return BuildSnapshot(pageURL, page.HTML, page.FetchedAt, trackedSelectors)
}

// Compare classifies the drift between two snapshots of the same page.
// It returns nil when nothing tracked or structural moved.
//
// Severity ladder, first match wins:
//
//	CRITICAL: a tracked selector that used to match now matches nothing
//	HIGH:     at least half of the tracked selectors changed match counts
//	MEDIUM:   some tracked selector's count or subtree shifted
//	LOW:      the page changed only outside the tracked paths
//
// Broken selectors are checked before the hash short-circuit: an
// attribute value edit (say a renamed class) leaves the structural hash
// untouched but can still sever a selector.
func Compare(prev, curr *internal.StructureSnapshot) *internal.StructureChangeEvent {
	if prev == nil || curr == nil {
		return nil
	}

	var broken []string
	shared := 0
	countChanged := 0
	signatureDrift := false

	for selector, before := range prev.ElementSignatures {
		after, ok := curr.ElementSignatures[selector]
		if !ok {
			continue // no longer tracked
		}
		shared++
		if before.Count > 0 && after.Count == 0 {
			broken = append(broken, selector)
		}
		if before.Count != after.Count {
			countChanged++
		}
		if before.Count != after.Count || before.PathHash != after.PathHash {
			signatureDrift = true
		}
	}

	severity := internal.ChangeSeverity("")
	switch {
	case len(broken) > 0:
		severity = internal.SeverityCritical
	case shared > 0 && countChanged*2 >= shared && countChanged > 0:
		severity = internal.SeverityHigh
	case signatureDrift:
		severity = internal.SeverityMedium
	case prev.StructureHash != curr.StructureHash:
		severity = internal.SeverityLow
	default:
		return nil
	}

	sort.Strings(broken)

	return &internal.StructureChangeEvent{
		URL:             curr.URL,
		PreviousHash:    prev.StructureHash,
		CurrentHash:     curr.StructureHash,
		Severity:        severity,
		BrokenSelectors: broken,
		DetectedAt:      curr.FetchedAt,
	}
}

// AcceptBaseline installs snap as the accepted baseline for its URL, but
// only if the stored baseline still carries previousHash. Pass an empty
// previousHash to claim a URL that has no baseline yet. A lost race
// surfaces as BASELINE_CONFLICT so the caller can re-read and re-decide
// against whatever won.
func (e *Engine) AcceptBaseline(ctx context.Context, snap *internal.StructureSnapshot, previousHash string) error {
	signatures, err := json.Marshal(snap.ElementSignatures)
	if err != nil {
		return utils.NewError(utils.ErrCodeInternal, "encode signatures").WithCause(err).Build()
	}
	acceptedAt := e.clock.Now().UTC()

	var res sql.Result
	if previousHash == "" {
		res, err = e.store.DB().ExecContext(ctx, `
			INSERT INTO baselines (url, structure_hash, fetched_at, accepted_at, state, signatures, raw_size)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO NOTHING`,
			snap.URL, snap.StructureHash, snap.FetchedAt.UTC(), acceptedAt,
			string(internal.PageStateBaselined), string(signatures), snap.RawSize)
	} else {
		res, err = e.store.DB().ExecContext(ctx, `
			UPDATE baselines
			SET structure_hash = ?, fetched_at = ?, accepted_at = ?, state = ?, signatures = ?, raw_size = ?
			WHERE url = ? AND structure_hash = ?`,
			snap.StructureHash, snap.FetchedAt.UTC(), acceptedAt,
			string(internal.PageStateBaselined), string(signatures), snap.RawSize,
			snap.URL, previousHash)
	}
	if err != nil {
		return utils.NewStorageError("accept baseline", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return utils.NewStorageError("accept baseline", err)
	}
	if affected == 0 {
		return utils.NewError(utils.ErrCodeBaselineConflict, "baseline changed since it was read").
			WithContext("url", snap.URL).
			Build()
	}

	logger.WithFields(map[string]interface{}{
		"url":  snap.URL,
		"hash": shortHash(snap.StructureHash),
	}).Info("baseline accepted")
	return nil
}

// ReplaceBaseline installs snap unconditionally and returns the page to
// BASELINED. This is the manual-reset path; routine adoption goes through
// AcceptBaseline.
func (e *Engine) ReplaceBaseline(ctx context.Context, snap *internal.StructureSnapshot) error {
	signatures, err := json.Marshal(snap.ElementSignatures)
	if err != nil {
		return utils.NewError(utils.ErrCodeInternal, "encode signatures").WithCause(err).Build()
	}

	_, err = e.store.DB().ExecContext(ctx, `
		INSERT INTO baselines (url, structure_hash, fetched_at, accepted_at, state, signatures, raw_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			structure_hash = excluded.structure_hash,
			fetched_at = excluded.fetched_at,
			accepted_at = excluded.accepted_at,
			state = excluded.state,
			signatures = excluded.signatures,
			raw_size = excluded.raw_size`,
		snap.URL, snap.StructureHash, snap.FetchedAt.UTC(), e.clock.Now().UTC(),
		string(internal.PageStateBaselined), string(signatures), snap.RawSize)
	if err != nil {
		return utils.NewStorageError("replace baseline", err)
	}

	logger.WithField("url", snap.URL).Info("baseline replaced")
	return nil
}

// Baseline loads the accepted baseline for a URL. It returns (nil, nil)
// when the URL has never been baselined.
func (e *Engine) Baseline(ctx context.Context, pageURL string) (*internal.Baseline, error) {
	row := e.store.DB().QueryRowContext(ctx, `
		SELECT structure_hash, fetched_at, accepted_at, state, signatures, raw_size
		FROM baselines WHERE url = ?`, pageURL)

	var (
		hash       string
		fetchedAt  time.Time
		acceptedAt time.Time
		state      string
		sigJSON    string
		rawSize    int
	)
	if err := row.Scan(&hash, &fetchedAt, &acceptedAt, &state, &sigJSON, &rawSize); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewStorageError("load baseline", err)
	}

	signatures := make(map[string]internal.ElementSignature)
	if err := json.Unmarshal([]byte(sigJSON), &signatures); err != nil {
		return nil, utils.NewStorageError("decode baseline signatures", err)
	}

	return &internal.Baseline{
		Snapshot: internal.StructureSnapshot{
			URL:               pageURL,
			FetchedAt:         fetchedAt.UTC(),
			StructureHash:     hash,
			ElementSignatures: signatures,
			RawSize:           rawSize,
		},
		State:      internal.PageState(state),
		AcceptedAt: acceptedAt.UTC(),
	}, nil
}

// SetState records a page-state transition for an existing baseline.
func (e *Engine) SetState(ctx context.Context, pageURL string, state internal.PageState) error {
	if !state.Valid() {
		return utils.NewError(utils.ErrCodeInternal, "unknown page state").
			WithContext("state", string(state)).
			Build()
	}

	res, err := e.store.DB().ExecContext(ctx,
		`UPDATE baselines SET state = ? WHERE url = ?`, string(state), pageURL)
	if err != nil {
		return utils.NewStorageError("set page state", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return utils.NewStorageError("set page state", err)
	}
	if affected == 0 {
		return utils.NewError(utils.ErrCodeInternal, "no baseline recorded for url").
			WithContext("url", pageURL).
			Build()
	}
	return nil
}

// Escalations lists the URLs currently parked in ESCALATED, the state
// that sticks until an operator resets the baseline.
func (e *Engine) Escalations(ctx context.Context) ([]string, error) {
	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT url FROM baselines WHERE state = ? ORDER BY url`,
		string(internal.PageStateEscalated))
	if err != nil {
		return nil, utils.NewStorageError("list escalations", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, utils.NewStorageError("list escalations", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStorageError("list escalations", err)
	}
	return urls, nil
}

// Baselines lists every accepted baseline ordered by URL.
func (e *Engine) Baselines(ctx context.Context) ([]internal.Baseline, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT url, structure_hash, fetched_at, accepted_at, state, signatures, raw_size
		FROM baselines ORDER BY url`)
	if err != nil {
		return nil, utils.NewStorageError("list baselines", err)
	}
	defer rows.Close()

	var baselines []internal.Baseline
	for rows.Next() {
		var (
			url        string
			hash       string
			fetchedAt  time.Time
			acceptedAt time.Time
			state      string
			sigJSON    string
			rawSize    int
		)
		if err := rows.Scan(&url, &hash, &fetchedAt, &acceptedAt, &state, &sigJSON, &rawSize); err != nil {
			return nil, utils.NewStorageError("list baselines", err)
		}
		signatures := make(map[string]internal.ElementSignature)
		if err := json.Unmarshal([]byte(sigJSON), &signatures); err != nil {
			return nil, utils.NewStorageError("decode baseline signatures", err)
		}
		baselines = append(baselines, internal.Baseline{
			Snapshot: internal.StructureSnapshot{
				URL:               url,
				FetchedAt:         fetchedAt.UTC(),
				StructureHash:     hash,
				ElementSignatures: signatures,
				RawSize:           rawSize,
			},
			State:      internal.PageState(state),
			AcceptedAt: acceptedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewStorageError("list baselines", err)
	}
	return baselines, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
