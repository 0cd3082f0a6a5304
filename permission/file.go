package permission

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// FileStore persists records for one project in a JSON file under the data
// directory. The file may contain comments and trailing commas so it can be
// edited by hand.
type FileStore struct {
	path        string
	projectRoot string
	rules       *rules
	writeMu     sync.Mutex
}

var _ Store = (*FileStore)(nil)

type fileFormat struct {
	Project string   `json:"project"`
	Records []Record `json:"records"`
}

// ProjectKey returns the hex blake3 hash scoping records to projectRoot.
func ProjectKey(projectRoot string) string {
	sum := blake3.Sum256([]byte(filepath.Clean(projectRoot)))
	return hex.EncodeToString(sum[:16])
}

// OpenFileStore loads (or starts) the record file for projectRoot under
// dataDir/permissions.
func OpenFileStore(dataDir, projectRoot string, shellTools ...string) (*FileStore, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	s := &FileStore{
		path:        filepath.Join(dataDir, "permissions", ProjectKey(abs)+".json"),
		projectRoot: abs,
		rules:       newRules(shellTools),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permission file: %w", err)
	}
	var stored fileFormat
	if err := json.Unmarshal(jsonc.ToJSON(data), &stored); err != nil {
		return nil, fmt.Errorf("parse permission file %s: %w", s.path, err)
	}
	for _, rec := range stored.Records {
		s.rules.add(rec)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) IsAllowed(tool string, args json.RawMessage) (bool, error) {
	return s.rules.isAllowed(tool, args), nil
}

func (s *FileStore) Remember(tool string, args json.RawMessage, asPrefix bool) (Record, error) {
	rec, err := s.rules.record(tool, args, asPrefix)
	if err != nil {
		return Record{}, err
	}
	if !s.rules.add(rec) {
		return rec, nil
	}
	return rec, s.flush()
}

func (s *FileStore) Records() ([]Record, error) {
	return s.rules.snapshot(), nil
}

// flush replaces the file atomically via a temp file and rename.
func (s *FileStore) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.MarshalIndent(fileFormat{Project: s.projectRoot, Records: s.rules.snapshot()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode permission file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create permission dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".permissions-*.json")
	if err != nil {
		return fmt.Errorf("create temp permission file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write permission file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close permission file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace permission file: %w", err)
	}
	return nil
}
