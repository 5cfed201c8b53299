package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallServiceWritesUnit(t *testing.T) {
	opts := DefaultServiceOptions()
	opts.UnitPath = filepath.Join(t.TempDir(), "systemd", "pai-supervisor.service")
	opts.User = "pai"

	require.NoError(t, InstallService(opts))

	data, err := os.ReadFile(opts.UnitPath)
	require.NoError(t, err)
	unit := string(data)
	assert.Contains(t, unit, "After=NetworkManager.service")
	assert.Contains(t, unit, "User=pai")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/pai-supervisor -config-file /etc/pai-supervisor/config.yml -db /var/lib/pai-supervisor/pai.db")
}
