package migrate_test

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentescrow-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := fs.Glob(migrate.Files(), "migrations/*_"+suffix+".sql")
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := fs.ReadFile(migrate.Files(), matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
	require.NoError(t, migrate.ValidateFS(migrate.Files(), migrate.EmbeddedDir))

	versions, err := migrate.Versions(migrate.Files(), migrate.EmbeddedDir)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "20260105090000", versions[0])
}

func TestValidateFSRejectsBadMigrations(t *testing.T) {
	good := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name":       {"m/create_things.sql": {Data: []byte(good)}},
		"missing down":   {"m/20260101000000_things.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"shared version": {"m/20260101000000_a.sql": {Data: []byte(good)}, "m/20260101000000_b.sql": {Data: []byte(good)}},
		"empty":          {"m/README.md": {Data: []byte("notes")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, migrate.ValidateFS(fsys, "m"))
		})
	}
}

func TestDepositsMigrationGuardsInvariants(t *testing.T) {
	content := readMigration(t, "create_deposits")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS deposits",
		"version                bigint NOT NULL DEFAULT 1",
		"CHECK (amount > 0)",
		"CONSTRAINT deposits_reference_key UNIQUE (reference)",
		"CHECK (dispute_id IS NULL OR status IN ('disputed', 'resolved'))",
		"DROP TABLE IF EXISTS deposits",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestDisputesMigrationAllowsOneActiveDispute(t *testing.T) {
	content := readMigration(t, "create_disputes")
	assert.Contains(t, content, "CREATE UNIQUE INDEX IF NOT EXISTS ux_disputes_active_deposit ON disputes (deposit_id) WHERE status IN ('open', 'under_review')")
	assert.Contains(t, content, "CHECK ((status = 'resolved') = (resolved_at IS NOT NULL))")
	assert.Contains(t, content, "CHECK (raised_by_role IN ('renter', 'landlord'))")
}

func TestPayoutsMigrationPaysEachRecipientOnce(t *testing.T) {
	content := readMigration(t, "create_payouts")
	assert.Contains(t, content, "CONSTRAINT ux_payouts_deposit_recipient UNIQUE (deposit_id, recipient_role)")
	assert.True(t, strings.Contains(content, "CHECK (amount > 0)"))
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Index!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_payout_index.sql"), path)
	require.NoError(t, migrate.ValidateDir(dir))
}
