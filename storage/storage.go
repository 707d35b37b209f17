package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
)

const snapshotTimeLayout = "20060102150405.000"

// SnapshotStorage writes point-in-time exports of the ledger chain as
// ledger_chain_<timestamp>.json, keeping only the newest files.
type SnapshotStorage struct {
	*logging.Logging
	dataDir string
	keep    int
}

// Add a struct to help with file sorting
type chainFile struct {
	path      string
	timestamp time.Time
}

type chainFiles []chainFile

func (f chainFiles) Len() int           { return len(f) }
func (f chainFiles) Less(i, j int) bool { return f[i].timestamp.Before(f[j].timestamp) }
func (f chainFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

// LedgerSnapshot is the file format of an export.
type LedgerSnapshot struct {
	ExportedAt time.Time       `json:"exported_at"`
	Height     int             `json:"height"`
	Valid      bool            `json:"valid"`
	Blocks     []*models.Block `json:"blocks"`
}

func NewSnapshotStorage(dataDir string, keep int) (*SnapshotStorage, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get absolute path")
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot directory")
	}

	if keep < 1 {
		keep = 1
	}

	return &SnapshotStorage{
		Logging: logging.NewModuleLogging("snapshot-storage"),
		dataDir: absPath,
		keep:    keep,
	}, nil
}

func (s *SnapshotStorage) listFiles() (chainFiles, error) {
	files, err := filepath.Glob(filepath.Join(s.dataDir, "ledger_chain_*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list files")
	}

	var found chainFiles
	for _, file := range files {
		// Extract timestamp from filename
		base := filepath.Base(file)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "ledger_chain_"), ".json")
		timestamp, err := time.Parse(snapshotTimeLayout, stamp)
		if err != nil {
			s.Log().Warn().Str("file", base).Err(err).Msg("invalid timestamp in snapshot filename")
			continue
		}
		found = append(found, chainFile{path: file, timestamp: timestamp})
	}

	sort.Sort(found)
	return found, nil
}

// Save writes a snapshot and prunes older ones. It returns the file path.
func (s *SnapshotStorage) Save(blocks []*models.Block, valid bool) (string, error) {
	if len(blocks) == 0 {
		return "", errors.New("cannot save empty chain")
	}

	now := time.Now().UTC()
	filename := filepath.Join(s.dataDir, fmt.Sprintf("ledger_chain_%s.json", now.Format(snapshotTimeLayout)))

	data, err := json.MarshalIndent(LedgerSnapshot{
		ExportedAt: now,
		Height:     len(blocks),
		Valid:      valid,
		Blocks:     blocks,
	}, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode chain")
	}

	tempPath := filename + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write snapshot")
	}
	if err := os.Rename(tempPath, filename); err != nil {
		os.Remove(tempPath)
		return "", errors.Wrap(err, "failed to save snapshot")
	}

	if err := s.cleanupOldFiles(); err != nil {
		s.Log().Warn().Err(err).Msg("failed to cleanup old snapshots")
	}

	s.Log().Info().Int("blocks", len(blocks)).Str("file", filename).Msg("saved ledger snapshot")
	return filename, nil
}

// LoadLatest returns the newest snapshot, or nil when none exists.
func (s *SnapshotStorage) LoadLatest() (*LedgerSnapshot, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	latest := files[len(files)-1].path
	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", latest)
	}

	var snapshot LedgerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrapf(err, "failed to decode chain from %s", latest)
	}

	return &snapshot, nil
}

func (s *SnapshotStorage) cleanupOldFiles() error {
	files, err := s.listFiles()
	if err != nil {
		return err
	}

	if len(files) <= s.keep {
		return nil
	}

	// Remove older files, keeping the most recent 'keep' files
	for i := 0; i < len(files)-s.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			s.Log().Warn().Str("file", files[i].path).Err(err).Msg("failed to remove old snapshot")
		} else {
			s.Log().Debug().Str("file", files[i].path).Msg("removed old snapshot")
		}
	}

	return nil
}
