// Package catalog persists per-source snapshots as JSON artifacts under the
// data directory. Writes go to a temp file first and are renamed into
// place, so readers never observe a partial file.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"skinarb/internal/models"
)

// referenceSources are the snapshots unioned into the reference price
// table, in load order.
var referenceSources = []string{"steammarket", "steamlisting", "steamprice"}

// Store reads and writes catalog artifacts in one directory.
type Store struct {
	dir string
}

// NewStore creates the catalog directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the catalog directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) snapshotPath(source string) string {
	return filepath.Join(s.dir, source+"_data.json")
}

// WriteSnapshot atomically replaces the snapshot file for source.
func (s *Store) WriteSnapshot(source string, items []models.Listing, m *models.SnapshotMetrics) error {
	if items == nil {
		items = []models.Listing{}
	}
	snap := models.SourceSnapshot{
		Platform:   source,
		Timestamp:  time.Now().UTC(),
		TotalItems: len(items),
		Items:      items,
		Metrics:    m,
	}
	return s.writeJSON(s.snapshotPath(source), snap)
}

// ReadSnapshot loads the snapshot for source. Both the wrapped object form
// and a bare listing array are accepted. A missing file returns an empty
// slice with no error.
func (s *Store) ReadSnapshot(source string) ([]models.Listing, error) {
	data, err := os.ReadFile(s.snapshotPath(source))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s snapshot: %w", source, err)
	}

	var snap models.SourceSnapshot
	if err := json.Unmarshal(data, &snap); err == nil && snap.Items != nil {
		return snap.Items, nil
	}

	var items []models.Listing
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s snapshot: %w", source, err)
	}
	return items, nil
}

// SnapshotAge returns how old the snapshot file for source is, or ok=false
// when it does not exist.
func (s *Store) SnapshotAge(source string) (time.Duration, bool) {
	info, err := os.Stat(s.snapshotPath(source))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// ReferenceTable builds the reference price table: the union of the
// reference snapshots, keeping the highest price per item name.
func (s *Store) ReferenceTable() (map[string]float64, error) {
	table := make(map[string]float64)
	for _, source := range referenceSources {
		items, err := s.ReadSnapshot(source)
		if err != nil {
			log.Warn().Err(err).Str("source", source).Msg("Skipping unreadable reference snapshot")
			continue
		}
		for _, item := range items {
			if item.Name == "" || item.Price <= 0 {
				continue
			}
			if item.Price > table[item.Name] {
				table[item.Name] = item.Price
			}
		}
	}
	return table, nil
}

// Sources lists the source tags with a snapshot on disk, excluding the
// reference snapshots, sorted for deterministic iteration.
func (s *Store) Sources() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*_data.json"))
	if err != nil {
		return nil, err
	}
	ref := make(map[string]bool, len(referenceSources))
	for _, r := range referenceSources {
		ref[r] = true
	}
	var sources []string
	for _, f := range files {
		tag := filepath.Base(f)
		tag = tag[:len(tag)-len("_data.json")]
		if tag == "profitability" || ref[tag] {
			continue
		}
		sources = append(sources, tag)
	}
	sort.Strings(sources)
	return sources, nil
}

const nameIDFile = "item_nameids.json"

// ReadNameIDs loads the reference-marketplace name→id artifact.
func (s *Store) ReadNameIDs() ([]models.NameIDEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, nameIDFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading name ids: %w", err)
	}
	var entries []models.NameIDEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing name ids: %w", err)
	}
	return entries, nil
}

// WriteNameIDs atomically replaces the name→id artifact.
func (s *Store) WriteNameIDs(entries []models.NameIDEntry) error {
	return s.writeJSON(filepath.Join(s.dir, nameIDFile), entries)
}

const opportunityFile = "profitability_data.json"

// ReadOpportunities loads the opportunity snapshot, or an empty snapshot
// when none exists.
func (s *Store) ReadOpportunities() (*models.OpportunitySnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, opportunityFile))
	if os.IsNotExist(err) {
		return &models.OpportunitySnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading opportunity snapshot: %w", err)
	}
	var snap models.OpportunitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing opportunity snapshot: %w", err)
	}
	return &snap, nil
}

// WriteOpportunities atomically replaces the opportunity snapshot.
func (s *Store) WriteOpportunities(snap *models.OpportunitySnapshot) error {
	return s.writeJSON(filepath.Join(s.dir, opportunityFile), snap)
}

// writeJSON writes v to path via a temp file plus rename.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
