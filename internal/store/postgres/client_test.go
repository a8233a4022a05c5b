package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://bot:pw@db:5432/skinbot?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "skinbot", User: "bot", Password: "pw"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Contains(t, DSN(ClientConfig{Host: "h", Port: 6543, SSLMode: "require"}), ":6543/?sslmode=require")
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()

	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_scan_checkpoints.sql",
		"002_opportunities.sql",
		"003_audit_log.sql",
	}, names)
}

func TestWhereClause(t *testing.T) {
	var w whereClause
	assert.Empty(t, w.String())

	w.add("game = $%d", "csgo")
	w.add("detected_at < $%d", time.Unix(0, 0))
	limit := w.next(10)

	assert.Equal(t, " WHERE game = $1 AND detected_at < $2", w.String())
	assert.Equal(t, 3, limit)
	assert.Len(t, w.args, 3)
}
