package startup

import (
	"fmt"
	"os"
	"path/filepath"
)

type ServiceOptions struct {
	UnitPath   string
	BinaryPath string
	ConfigPath string
	DBPath     string
	User       string
}

func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		UnitPath:   "/etc/systemd/system/pai-supervisor.service",
		BinaryPath: "/usr/local/bin/pai-supervisor",
		ConfigPath: "/etc/pai-supervisor/config.yml",
		DBPath:     "/var/lib/pai-supervisor/pai.db",
		User:       "root",
	}
}

// UnitFile renders the systemd unit. NetworkManager must be up before the
// supervisor can join or host networks.
func UnitFile(opts ServiceOptions) string {
	return fmt.Sprintf(`[Unit]
Description=PAI connectivity supervisor
After=NetworkManager.service
Wants=NetworkManager.service

[Service]
Type=simple
User=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s -config-file %s -db %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, opts.User, opts.BinaryPath, opts.ConfigPath, opts.DBPath)
}

func InstallService(opts ServiceOptions) error {
	if err := os.MkdirAll(filepath.Dir(opts.UnitPath), 0755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(opts.UnitPath, []byte(UnitFile(opts)), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	return nil
}
