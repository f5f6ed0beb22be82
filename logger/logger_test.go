package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggerWritesJSONFile(t *testing.T) {
	defer func() { Logger = zap.NewNop() }()
	path := filepath.Join(t.TempDir(), "app.log")

	require.NoError(t, InitLogger(path, "info"))
	Logger.Debug("hidden")
	Logger.Info("Fracture detected", zap.Uint64("delta", 250))
	require.NoError(t, Logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "Fracture detected", entry["msg"])
	require.Equal(t, float64(250), entry["delta"])
	require.Contains(t, entry, "time")
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	require.Error(t, InitLogger("", "loud"))
}
