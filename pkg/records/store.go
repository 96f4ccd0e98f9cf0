package records

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/machinist/pkg/models"
)

// Store persists orphan records as plain JSON files, one per outstanding
// resource, under a single state directory. A sibling <id>.lock file marks a
// record as in-use by a live session. File removal is atomic, which is the
// only exclusivity the sweeper needs: two sweepers racing on the same record
// have one winner and one no-op.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the record directory
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.dir, id+".lock")
}

// Put writes a record, replacing any previous one with the same ID.
// The write goes through a temp file and rename so a crashed writer never
// leaves a half-written record for the sweeper to trip over.
func (s *Store) Put(record *models.OrphanRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record has no ID")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.ID, err)
	}

	tmp := s.recordPath(record.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}
	if err := os.Rename(tmp, s.recordPath(record.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record %s: %w", record.ID, err)
	}
	return nil
}

// Get loads a single record by ID
func (s *Store) Get(id string) (*models.OrphanRecord, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %s not found", id)
		}
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var record models.OrphanRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}

	s.stampAge(&record)
	return &record, nil
}

// List returns all records in the directory. Unparseable files are skipped
// rather than failing the whole listing; the sweeper must keep working even
// if one record was corrupted by a crash.
func (s *Store) List() ([]*models.OrphanRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read record directory %s: %w", s.dir, err)
	}

	var records []*models.OrphanRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		record, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Remove deletes a record file. Removing an absent record is a no-op so
// sweep re-runs and double releases stay idempotent.
func (s *Store) Remove(id string) error {
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	return nil
}

// Lock marks a record as in-use by the calling process
func (s *Store) Lock(id string) error {
	if err := os.WriteFile(s.lockPath(id), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write lock for %s: %w", id, err)
	}
	return nil
}

// Unlock removes the in-use marker; absence is success
func (s *Store) Unlock(id string) error {
	if err := os.Remove(s.lockPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock for %s: %w", id, err)
	}
	return nil
}

// Held reports whether a record is still in use by a live process on this
// host: either the process that wrote its lock file, or the recorded owner.
// A lock left behind by a killed controller does not hold; its machine must
// stay eligible for sweeping. Held records are never swept, whatever their
// age.
func (s *Store) Held(record *models.OrphanRecord) bool {
	if pid := s.lockOwner(record.ID); pid > 0 && pidAlive(pid) {
		return true
	}

	if record.OwnerPID <= 0 {
		return false
	}
	hostname, err := os.Hostname()
	if err != nil || record.OwnerHost != hostname {
		// Owner ran elsewhere; liveness cannot be checked from here
		return false
	}
	return pidAlive(record.OwnerPID)
}

// lockOwner reads the PID written into the lock file, 0 when absent or junk
func (s *Store) lockOwner(id string) int32 {
	data, err := os.ReadFile(s.lockPath(id))
	if err != nil {
		return 0
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0
	}
	return int32(pid)
}

func pidAlive(pid int32) bool {
	alive, err := process.PidExists(pid)
	return err == nil && alive
}

// stampAge makes the record's age the file's last-modified time, which is
// what the sweeper thresholds against. The embedded handle keeps the real
// provisioning timestamp.
func (s *Store) stampAge(record *models.OrphanRecord) {
	info, err := os.Stat(s.recordPath(record.ID))
	if err != nil {
		return
	}
	record.CreatedAt = info.ModTime()
}
