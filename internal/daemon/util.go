package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cosmic-connect/cconnectd/internal/identity"
)

// loadOrAssignDeviceID reads the persisted device id under dataDir,
// generating and persisting a fresh one on first run.
func loadOrAssignDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "device_id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("daemon: read device id: %w", err)
	}

	id := identity.NewDeviceID()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("daemon: create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("daemon: persist device id: %w", err)
	}
	return id, nil
}

func hostnameOrDefault() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "cconnectd"
	}
	return name
}
