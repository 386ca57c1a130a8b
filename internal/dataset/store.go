// Package dataset persists per-date datasets and their pending-state
// sidecars as flat JSON files. The sidecar's presence is the only signal
// that a date still has outstanding work.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boletin-cli/internal/model"
)

const (
	datasetExt = ".json"
	pendingExt = ".pending.json"
	dateLayout = "2006-01-02"
)

// ErrInvalidDate is returned for keys that are not ISO yyyy-mm-dd dates.
var ErrInvalidDate = eris.New("dataset: invalid date key")

// Store reads and writes dataset files under one directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// DatasetPath returns the dataset file path for date.
func (s *Store) DatasetPath(date string) string {
	return filepath.Join(s.dir, date+datasetExt)
}

// PendingPath returns the sidecar file path for date.
func (s *Store) PendingPath(date string) string {
	return filepath.Join(s.dir, date+pendingExt)
}

// LoadDataset returns the dataset for date, or nil when none was written yet.
func (s *Store) LoadDataset(date string) (*model.DailyDataset, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	var ds model.DailyDataset
	found, err := readJSON(s.DatasetPath(date), &ds)
	if err != nil || !found {
		return nil, err
	}
	normalize(&ds)
	return &ds, nil
}

// SaveDataset atomically writes ds under its date key.
func (s *Store) SaveDataset(ds *model.DailyDataset) error {
	if err := validateDate(ds.Date); err != nil {
		return err
	}
	normalize(ds)
	return writeJSON(s.DatasetPath(ds.Date), ds)
}

// LoadPending returns the sidecar for date, or nil when the date has no
// outstanding work recorded.
func (s *Store) LoadPending(date string) (*model.PendingState, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	var p model.PendingState
	found, err := readJSON(s.PendingPath(date), &p)
	if err != nil || !found {
		return nil, err
	}
	if p.Norms == nil {
		p.Norms = []model.Norm{}
	}
	return &p, nil
}

// SavePending atomically writes the sidecar for date.
func (s *Store) SavePending(date string, p *model.PendingState) error {
	if err := validateDate(date); err != nil {
		return err
	}
	if p.Norms == nil {
		p.Norms = []model.Norm{}
	}
	return writeJSON(s.PendingPath(date), p)
}

// ClearPending removes the sidecar for date. Removing an absent sidecar is
// not an error.
func (s *Store) ClearPending(date string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	if err := os.Remove(s.PendingPath(date)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "dataset: clear pending %s", date)
	}
	return nil
}

// HasPending reports whether a sidecar exists for date.
func (s *Store) HasPending(date string) (bool, error) {
	if err := validateDate(date); err != nil {
		return false, err
	}
	_, err := os.Stat(s.PendingPath(date))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, eris.Wrapf(err, "dataset: stat pending %s", date)
	}
}

// ListDates returns the dates with a dataset file, oldest first.
func (s *Store) ListDates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, eris.Wrap(err, "dataset: list dates")
	}

	dates := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, pendingExt) || !strings.HasSuffix(name, datasetExt) {
			continue
		}
		date := strings.TrimSuffix(name, datasetExt)
		if validateDate(date) == nil {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// Encode renders v the way every dataset file is written: two-space
// indented JSON with a trailing newline. Equal values encode to equal bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "dataset: encode")
	}
	return buf.Bytes(), nil
}

func validateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return eris.Wrapf(ErrInvalidDate, "%q", date)
	}
	return nil
}

func normalize(ds *model.DailyDataset) {
	if ds.Expenditures == nil {
		ds.Expenditures = []model.Norm{}
	}
	if ds.NonExpenditures == nil {
		ds.NonExpenditures = []model.Norm{}
	}
	if ds.Tenders == nil {
		ds.Tenders = []model.Tender{}
	}
	if ds.Organizations == nil {
		ds.Organizations = []string{}
	}
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "dataset: read %s", filepath.Base(path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "dataset: decode %s", filepath.Base(path))
	}
	return true, nil
}

// writeJSON replaces path via a temp file and rename so readers never see a
// partial file. Identical content is left untouched.
func writeJSON(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return eris.Wrap(err, "dataset: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "dataset: write %s", filepath.Base(path))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "dataset: sync %s", filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "dataset: close %s", filepath.Base(path))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: chmod %s", filepath.Base(path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "dataset: rename %s", filepath.Base(path))
	}
	return nil
}
