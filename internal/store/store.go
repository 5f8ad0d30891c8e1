// Package store implements the durable record store: a single CSV file
// keyed by listing URL whose schema only grows and whose merges never
// replace a known value with an unknown one. Writers are serialized by
// a coarse advisory lock around the load-merge-rewrite cycle.
package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
	"github.com/kauaDaviAmaro/listing-harvester/internal/metrics"
)

// headerTokens are field names whose presence in the first line of the
// file marks it as a header row rather than data.
var headerTokens = []string{"url", "price", "title", "location", "area", "bedrooms", "bathrooms"}

// Config holds store construction knobs.
type Config struct {
	// Path is the CSV file the store owns.
	Path string
	// ListingURLMarker is the substring identifying the site's listing
	// URLs, used to recover identities from headerless legacy files.
	ListingURLMarker string
	// LockWait caps how long a writer polls the lock marker before
	// proceeding anyway.
	LockWait time.Duration
}

// Store owns one CSV file of records keyed by URL.
type Store struct {
	path      string
	urlMarker string
	lock      *markerLock
	logger    *zap.Logger
}

// New constructs a Store. The file is created lazily on first save.
func New(cfg Config, logger *zap.Logger) *Store {
	return &Store{
		path:      cfg.Path,
		urlMarker: cfg.ListingURLMarker,
		lock:      newMarkerLock(cfg.Path+".lock", cfg.LockWait, logger),
		logger:    logger,
	}
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Snapshot is the in-memory view of the store: rows keyed by identity
// plus the field list as found in the file.
type Snapshot struct {
	Rows   map[string]listing.Record
	Fields []string
}

// Load reads the persisted file. I/O and parse failures degrade to an
// empty snapshot: the pipeline must keep making forward progress, and
// the next save rewrites the file from scratch.
func (s *Store) Load() Snapshot {
	snap := Snapshot{Rows: make(map[string]listing.Record)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap
	}
	if err != nil {
		s.logger.Error("read store file failed; treating store as empty", zap.String("path", s.path), zap.Error(err))
		return snap
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return snap
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		s.logger.Error("parse store file failed; treating store as empty", zap.String("path", s.path), zap.Error(err))
		return snap
	}
	if len(rows) == 0 {
		return snap
	}

	if hasHeader(rows[0]) {
		s.loadKeyed(rows, &snap)
	} else {
		s.logger.Warn("store file has no header; degraded-mode positional header inference",
			zap.String("path", s.path),
		)
		metrics.StoreDegradedLoads.Inc()
		s.loadPositional(rows, &snap)
	}

	s.logger.Debug("store loaded",
		zap.Int("rows", len(snap.Rows)),
		zap.Int("fields", len(snap.Fields)),
	)
	return snap
}

func hasHeader(first []string) bool {
	line := strings.ToLower(strings.Join(first, ","))
	for _, token := range headerTokens {
		if strings.Contains(line, token) {
			return true
		}
	}
	return false
}

// loadKeyed reads a file whose first row is the header. Every valid
// header field is materialized on every row, empty cells included, so
// schema width never shrinks on reload.
func (s *Store) loadKeyed(rows [][]string, snap *Snapshot) {
	header := rows[0]
	for _, name := range header {
		name = strings.TrimSpace(name)
		if listing.IsValidFieldName(name) {
			snap.Fields = append(snap.Fields, name)
		}
	}

	for i, row := range rows[1:] {
		if !rowHasData(row) {
			continue
		}
		rec := make(listing.Record, len(header))
		for j, name := range header {
			name = strings.TrimSpace(name)
			if !listing.IsValidFieldName(name) {
				continue
			}
			cell := ""
			if j < len(row) {
				cell = strings.TrimSpace(row[j])
			}
			if cell == "" {
				rec[name] = listing.Null()
			} else {
				rec[name] = listing.Text(cell)
			}
		}

		key := rec.URL()
		if key == "" {
			key = s.findIdentityCell(row)
		}
		if key == "" {
			key = fmt.Sprintf("listing_%d", i+1)
			s.logger.Warn("row has data but no url; preserving under index key",
				zap.Int("row", i+1), zap.String("key", key))
		}
		// Duplicate identities collapse last-write-wins.
		snap.Rows[key] = rec
	}
}

// loadPositional handles legacy files written without a header. Cells
// become column_<i> fields (filtered out of any persisted union) and
// identities are recovered by scanning for the listing-URL marker.
// Best-effort only.
func (s *Store) loadPositional(rows [][]string, snap *Snapshot) {
	urlCol := s.findIdentityColumn(rows)

	for _, row := range rows {
		if !rowHasData(row) {
			continue
		}
		rec := make(listing.Record, len(row))
		for j, cell := range row {
			cell = strings.TrimSpace(cell)
			name := fmt.Sprintf("column_%d", j)
			if cell == "" {
				rec[name] = listing.Null()
			} else {
				rec[name] = listing.Text(cell)
			}
		}

		key := ""
		if urlCol >= 0 && urlCol < len(row) {
			key = strings.TrimSpace(row[urlCol])
		}
		if key == "" {
			key = s.findIdentityCell(row)
		}
		if key == "" {
			key = fmt.Sprintf("listing_%d", len(snap.Rows)+1)
		}
		snap.Rows[key] = rec
	}

	recs := make([]listing.Record, 0, len(snap.Rows))
	for _, rec := range snap.Rows {
		recs = append(recs, rec)
	}
	snap.Fields = listing.FieldUnion(recs...)
}

func (s *Store) findIdentityColumn(rows [][]string) int {
	if s.urlMarker == "" {
		return -1
	}
	limit := len(rows)
	if limit > 10 {
		limit = 10
	}
	for _, row := range rows[:limit] {
		for j, cell := range row {
			if strings.Contains(cell, s.urlMarker) {
				return j
			}
		}
	}
	return -1
}

func (s *Store) findIdentityCell(row []string) string {
	if s.urlMarker == "" {
		return ""
	}
	for _, cell := range row {
		if strings.Contains(cell, s.urlMarker) {
			return strings.TrimSpace(cell)
		}
	}
	return ""
}

func rowHasData(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

// Merge combines an incoming record into an existing row. A non-empty
// incoming value wins; an empty incoming value never displaces a known
// one; fields only the existing row has are carried through unchanged.
func Merge(existing, incoming listing.Record) listing.Record {
	merged := existing.Clone()
	for name, newVal := range incoming {
		if !listing.IsValidFieldName(name) {
			continue
		}
		if !newVal.IsEmpty() {
			merged[name] = newVal
			continue
		}
		if current, ok := merged[name]; ok && !current.IsEmpty() {
			continue
		}
		// Both sides empty: record the field so column width survives.
		merged[name] = listing.Null()
	}
	return merged
}

// SaveListing merges one record into its row and rewrites the file.
// Empty records, records without a url, and technical-failure markers
// are rejected without touching the file. The lock marker is always
// removed, whether or not the write succeeds.
func (s *Store) SaveListing(ctx context.Context, rec listing.Record) error {
	if len(rec) == 0 {
		s.logger.Warn("cannot save: record is empty")
		return nil
	}
	url := rec.URL()
	if url == "" {
		s.logger.Warn("cannot save: record has no url")
		return nil
	}
	if rec.IsTechnicalFailure() {
		s.logger.Warn("skipping save: technical failure record",
			zap.String("url", url),
			zap.String("error", truncate(rec.ErrorText(), 100)),
		)
		return nil
	}

	release := s.lock.acquire(ctx)
	defer release()

	snap := s.Load()
	if existing, ok := snap.Rows[url]; ok {
		snap.Rows[url] = Merge(existing, rec)
		s.logger.Info("updating stored record", zap.String("url", url))
	} else {
		snap.Rows[url] = rec.Clone()
		s.logger.Info("adding stored record", zap.String("url", url))
	}

	union := unionOf(snap, rec)
	if len(union) == 0 {
		return errors.New("no valid field names to write")
	}
	if err := s.rewrite(union, snap.Rows); err != nil {
		return fmt.Errorf("save record %s: %w", url, err)
	}
	return nil
}

// SaveBatch applies SaveListing semantics to many records with one
// load and one rewrite.
func (s *Store) SaveBatch(ctx context.Context, recs []listing.Record) error {
	if len(recs) == 0 {
		s.logger.Debug("no records to save")
		return nil
	}

	release := s.lock.acquire(ctx)
	defer release()

	snap := s.Load()
	updated, added := 0, 0
	for _, rec := range recs {
		if len(rec) == 0 {
			continue
		}
		url := rec.URL()
		if url == "" {
			s.logger.Warn("skipping record without url in batch")
			continue
		}
		if rec.IsTechnicalFailure() {
			s.logger.Warn("skipping technical failure record in batch", zap.String("url", url))
			continue
		}
		if existing, ok := snap.Rows[url]; ok {
			snap.Rows[url] = Merge(existing, rec)
			updated++
		} else {
			snap.Rows[url] = rec.Clone()
			added++
		}
	}

	union := unionOf(snap, recs...)
	if len(union) == 0 {
		return errors.New("no valid field names to write")
	}
	if err := s.rewrite(union, snap.Rows); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	s.logger.Info("saved batch",
		zap.Int("updated", updated),
		zap.Int("added", added),
		zap.Int("rows", len(snap.Rows)),
		zap.Int("fields", len(union)),
	)
	return nil
}

// SavePageBatch appends one search page's worth of fresh records.
// Records on a fresh page are new by construction, so no per-record
// merge runs here; only the header union is maintained. The append
// still takes the store lock so it cannot interleave with another
// writer's rewrite.
func (s *Store) SavePageBatch(ctx context.Context, pageNum int, recs []listing.Record) error {
	if len(recs) == 0 {
		s.logger.Debug("no records on page", zap.Int("page", pageNum))
		return nil
	}

	release := s.lock.acquire(ctx)
	defer release()

	union := listing.FieldUnion(recs...)
	if existing, err := s.readHeader(); err == nil {
		union = mergeFieldLists(union, existing)
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("read existing header failed; using page fieldnames only", zap.Error(err))
	}
	if len(union) == 0 {
		return errors.New("no valid field names to write")
	}

	if err := s.ensureHeader(union); err != nil {
		return fmt.Errorf("ensure header: %w", err)
	}
	if err := s.appendRows(union, recs); err != nil {
		return fmt.Errorf("append page %d: %w", pageNum, err)
	}
	s.logger.Info("saved page batch",
		zap.Int("page", pageNum),
		zap.Int("records", len(recs)),
		zap.String("path", s.path),
	)
	return nil
}

func (s *Store) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Debug("close store file failed", zap.Error(cerr))
		}
	}()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header row: %w", err)
	}
	valid := header[:0]
	for _, name := range header {
		name = strings.TrimSpace(name)
		if listing.IsValidFieldName(name) {
			valid = append(valid, name)
		}
	}
	return valid, nil
}

func (s *Store) ensureHeader(fields []string) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) appendRows(fields []string, recs []listing.Record) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for _, rec := range recs {
		if err := w.Write(encodeRow(fields, rec)); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// rewrite replaces the whole file: header plus one row per identity,
// sorted by identity for determinism. Rows whose key is not a URL
// (index-keyed legacy rows) sort after the URL-keyed ones.
func (s *Store) rewrite(fields []string, rows map[string]listing.Record) error {
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		iURL := rows[keys[i]].URL() != "" || strings.Contains(keys[i], "://")
		jURL := rows[keys[j]].URL() != "" || strings.Contains(keys[j], "://")
		if iURL != jURL {
			return iURL
		}
		return keys[i] < keys[j]
	})

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create store file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, key := range keys {
		if err := w.Write(encodeRow(fields, rows[key])); err != nil {
			_ = f.Close()
			return fmt.Errorf("write row %s: %w", key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close store file: %w", err)
	}
	metrics.StoreRewrites.Inc()
	return nil
}

func encodeRow(fields []string, rec listing.Record) []string {
	row := make([]string, len(fields))
	for i, name := range fields {
		if v, ok := rec[name]; ok {
			row[i] = v.Cell()
		}
	}
	return row
}

func unionOf(snap Snapshot, extra ...listing.Record) []string {
	recs := make([]listing.Record, 0, len(snap.Rows)+len(extra))
	for _, rec := range snap.Rows {
		recs = append(recs, rec)
	}
	recs = append(recs, extra...)
	return listing.FieldUnion(recs...)
}

func mergeFieldLists(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, name := range a {
		seen[name] = struct{}{}
	}
	for _, name := range b {
		seen[name] = struct{}{}
	}
	union := make([]string, 0, len(seen))
	for name := range seen {
		union = append(union, name)
	}
	sort.Strings(union)
	return union
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
