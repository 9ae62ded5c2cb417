package licensing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, testLogger(), nil), mock
}

func licenseRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_email", "org_id", "tier", "active", "assigned_at", "last_access_at", "notes",
	})
}

func TestGetActiveLicense(t *testing.T) {
	store, mock := newTestStore(t)
	assigned := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM user_licenses WHERE user_email = (.+) AND active = true").
		WithArgs("a@x.com").
		WillReturnRows(licenseRows().
			AddRow(7, "a@x.com", "org-1", "team_member", true, assigned, nil, "pilot group"))

	lic, err := store.GetActiveLicense(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, lic)
	assert.Equal(t, int64(7), lic.ID)
	assert.Equal(t, TierTeamMember, lic.Tier)
	assert.Equal(t, "org-1", lic.OrgID)
	assert.Nil(t, lic.LastAccessAt)
	assert.Equal(t, "pilot group", lic.Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveLicenseMissingIsNotAnError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM user_licenses WHERE user_email = (.+) AND active = true").
		WithArgs("nobody@x.com").
		WillReturnRows(licenseRows())

	lic, err := store.GetActiveLicense(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, lic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrgModules(t *testing.T) {
	store, mock := newTestStore(t)
	expires := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM org_modules WHERE org_id = (.+)").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"org_id", "module", "active", "license_key", "activated_at", "expires_at",
		}).
			AddRow("org-1", "base", true, nil, nil, nil).
			AddRow("org-1", "benefits", true, "BEN-123", nil, expires).
			AddRow("org-1", "skills", false, nil, nil, nil))

	modules, err := store.ListOrgModules(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, modules, 3)
	assert.Equal(t, ModuleBase, modules[0].Module)
	assert.Equal(t, "BEN-123", modules[1].LicenseKey)
	require.NotNil(t, modules[1].ExpiresAt)
	assert.True(t, modules[1].ExpiresAt.Equal(expires))
	assert.False(t, modules[2].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTierRules(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM tier_permissions WHERE tier = (.+)").
		WithArgs("read_only").
		WillReturnRows(sqlmock.NewRows([]string{"tier", "action", "can_execute"}).
			AddRow("read_only", "edit", false).
			AddRow("read_only", "view", true))

	rules, err := store.ListTierRules(context.Background(), TierReadOnly)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.False(t, rules[0].CanExecute)
	assert.True(t, rules[1].CanExecute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLicenseTierMissingLicense(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE user_licenses SET tier = (.+)").
		WithArgs("full_license", "ghost@x.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateLicenseTier(context.Background(), "ghost@x.com", TierFullLicense)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetLicenseActive(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE user_licenses SET active = (.+)").
		WithArgs(false, "a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetLicenseActive(context.Background(), "a@x.com", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetModuleActive(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE org_modules SET active = (.+)").
		WithArgs(true, "org-1", "skills").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetModuleActive(context.Background(), "org-1", ModuleSkills, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRule(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO tier_permissions").
		WithArgs("team_member", "delete", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertRule(context.Background(), PermissionRule{
		Tier: TierTeamMember, Action: ActionDelete, CanExecute: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRuleMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM tier_permissions").
		WithArgs("read_only", "manage").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRule(context.Background(), TierReadOnly, ActionManage)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignLicenseProvisionsModules(t *testing.T) {
	store, mock := newTestStore(t)
	assigned := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO user_licenses").
		WillReturnRows(licenseRows().
			AddRow(1, "b@x.com", "org-2", "read_only", true, assigned, nil, ""))
	for range AllModules {
		mock.ExpectExec("INSERT INTO org_modules").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	lic, err := store.AssignLicense(context.Background(), "b@x.com", "org-2", TierReadOnly, "")
	require.NoError(t, err)
	assert.Equal(t, TierReadOnly, lic.Tier)
	assert.True(t, lic.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveLicensesByTier(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT tier, COUNT(.+) FROM user_licenses").
		WillReturnRows(sqlmock.NewRows([]string{"tier", "count"}).
			AddRow("team_member", 12).
			AddRow("read_only", 3))

	counts, err := store.CountActiveLicensesByTier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, counts[TierTeamMember])
	assert.Equal(t, 3, counts[TierReadOnly])
	assert.Equal(t, 0, counts[TierFullLicense])
	assert.NoError(t, mock.ExpectationsWereMet())
}
