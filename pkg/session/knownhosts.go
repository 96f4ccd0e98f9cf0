package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"
)

// KnownHosts removes host-key entries for released machines so a reused
// address does not collide with a stale key on the next reservation.
type KnownHosts struct {
	Path string
}

// DefaultKnownHosts points at the caller's ~/.ssh/known_hosts
func DefaultKnownHosts() (*KnownHosts, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to find home directory: %w", err)
	}
	return &KnownHosts{Path: filepath.Join(home, ".ssh", "known_hosts")}, nil
}

// RemoveHost deletes all entries for the given address. A missing file or an
// address with no entries is success; the end state is the same either way.
// Hashed entries cannot be matched by address and are left alone.
func (k *KnownHosts) RemoveHost(address string) error {
	data, err := os.ReadFile(k.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", k.Path, err)
	}

	target := knownhosts.Normalize(address)
	var kept []string
	removed := 0

	for _, line := range strings.Split(string(data), "\n") {
		if matchesHost(line, target) {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if removed == 0 {
		return nil
	}

	tmp := k.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, k.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to update %s: %w", k.Path, err)
	}
	return nil
}

// matchesHost reports whether a known_hosts line names the target host
func matchesHost(line, target string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "|") {
		return false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return false
	}
	for _, pattern := range strings.Split(fields[0], ",") {
		if knownhosts.Normalize(pattern) == target {
			return true
		}
	}
	return false
}
