package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrVoterNotFound = errors.New("voter not found in roll")

// VoterRegistry is the external voter roll the ledger seeds voters from.
type VoterRegistry interface {
	VoterExists(id string) bool
	GetVoterDetails(id string) (*VoterDetails, error)
	Voters() []*VoterDetails
}

// VoterDetails is one entry of the roll.
type VoterDetails struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	DateOfBirth time.Time `json:"date_of_birth" yaml:"date_of_birth"`
	State       string    `json:"state" yaml:"state"`
	LGA         string    `json:"lga" yaml:"lga"`
	IsActive    bool      `json:"is_active" yaml:"is_active"` // false for deceased or struck-off voters
	IsVerified  bool      `json:"is_verified" yaml:"is_verified"`
}

type RegistryConfig struct {
	// VotersFilePath is a .json, .yaml or .yml file holding {"voters": [...]}.
	VotersFilePath string `json:"voters_file_path" yaml:"voters_file_path"`
}

type rollFile struct {
	Voters []*VoterDetails `json:"voters" yaml:"voters"`
}

// FileRegistry is a VoterRegistry loaded from a roll file.
type FileRegistry struct {
	voters map[string]*VoterDetails
	mu     sync.RWMutex
	config RegistryConfig
}

func NewFileRegistry(config RegistryConfig) *FileRegistry {
	return &FileRegistry{
		voters: make(map[string]*VoterDetails),
		config: config,
	}
}

// LoadFileRegistry creates a registry and loads its roll file.
func LoadFileRegistry(path string) (*FileRegistry, error) {
	r := NewFileRegistry(RegistryConfig{VotersFilePath: path})
	if err := r.LoadVotersFromFile(); err != nil {
		return nil, err
	}

	return r, nil
}

// LoadVotersFromFile replaces the in-memory roll with the file content. The
// whole file is rejected if any entry is invalid.
func (r *FileRegistry) LoadVotersFromFile() error {
	data, err := os.ReadFile(r.config.VotersFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read voters file")
	}

	var roll rollFile
	switch strings.ToLower(filepath.Ext(r.config.VotersFilePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &roll)
	default:
		err = json.Unmarshal(data, &roll)
	}
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal voter data")
	}

	voters := make(map[string]*VoterDetails, len(roll.Voters))
	for i, voter := range roll.Voters {
		if err := validateVoterData(voter); err != nil {
			return errors.Wrapf(err, "invalid voter data at entry %d", i)
		}
		if _, ok := voters[voter.ID]; ok {
			return errors.Errorf("duplicate voter %s in roll", voter.ID)
		}
		voters[voter.ID] = voter
	}

	r.mu.Lock()
	r.voters = voters
	r.mu.Unlock()

	return nil
}

// SaveVotersToFile writes the roll back to its file, JSON or YAML by
// extension.
func (r *FileRegistry) SaveVotersToFile() error {
	roll := rollFile{Voters: r.Voters()}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(r.config.VotersFilePath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(roll)
	default:
		data, err = json.MarshalIndent(roll, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal voter data")
	}

	if err := os.MkdirAll(filepath.Dir(r.config.VotersFilePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	return errors.Wrap(os.WriteFile(r.config.VotersFilePath, data, 0644), "failed to save voters file")
}

func validateVoterData(voter *VoterDetails) error {
	if voter == nil {
		return errors.New("empty entry")
	}
	if voter.ID == "" {
		return errors.New("id is required")
	}
	if voter.Name == "" {
		return errors.New("name is required")
	}
	if voter.LGA != "" && voter.State == "" {
		return errors.New("lga requires a state")
	}
	return nil
}

func (r *FileRegistry) VoterExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voter, exists := r.voters[id]
	return exists && voter.IsActive
}

func (r *FileRegistry) GetVoterDetails(id string) (*VoterDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voter, exists := r.voters[id]
	if !exists {
		return nil, errors.Wrapf(ErrVoterNotFound, "voter %s", id)
	}

	// Return a copy to prevent modification of internal state
	voterCopy := *voter
	return &voterCopy, nil
}

// Voters returns copies of every entry, ordered by id.
func (r *FileRegistry) Voters() []*VoterDetails {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voters := make([]*VoterDetails, 0, len(r.voters))
	for _, v := range r.voters {
		voterCopy := *v
		voters = append(voters, &voterCopy)
	}

	sort.Slice(voters, func(i, j int) bool {
		return voters[i].ID < voters[j].ID
	})

	return voters
}

// AddVoter puts an entry into the in-memory roll, replacing any entry with
// the same id.
func (r *FileRegistry) AddVoter(voter *VoterDetails) error {
	if err := validateVoterData(voter); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	voterCopy := *voter
	r.voters[voter.ID] = &voterCopy
	return nil
}
