package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/19Mahmoud19/joplin/internal/utils"
	"github.com/19Mahmoud19/joplin/internal/version"
)

const (
	clientIDFile = "client_id"
	clientIDLen  = 32
)

// resolveClientID returns the id stored in the profile, creating it on first
// use. A new id is the machine id hashed with the profile directory, so every
// profile of a machine is a distinct client; it is random when the machine id
// is unavailable.
func resolveClientID(profileDir string) (string, error) {
	path := filepath.Join(profileDir, clientIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read client id: %w", err)
	}

	abs, err := filepath.Abs(profileDir)
	if err != nil {
		return "", fmt.Errorf("resolve profile dir: %w", err)
	}
	id, err := machineid.ProtectedID(version.AppName + ":" + abs)
	if err != nil {
		slog.Warn("machine id unavailable, using a random client id", "error", err)
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(id) > clientIDLen {
		id = id[:clientIDLen]
	}

	if err := utils.EnsureParent(path); err != nil {
		return "", fmt.Errorf("write client id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write client id: %w", err)
	}
	return id, nil
}
