package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexum/internal/audit"
	"nexum/internal/storage/memstore"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/money"
)

const goodPassword = "Str0ng!Passw0rd"

func newTestKernel(t *testing.T) (*Kernel, *clock.Manual) {
	t.Helper()
	store := memstore.New()
	clk := clock.NewManual(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	k, err := NewKernel(context.Background(), store, audit.NewTrail(store, clk), clk, DefaultPasswordPolicy(), nil)
	require.NoError(t, err)
	return k, clk
}

func createUser(t *testing.T, k *Kernel, username string, roles ...string) *User {
	t.Helper()
	user, err := k.CreateUser(context.Background(), "admin", CreateUserRequest{
		Username: username,
		Email:    username + "@bank.example",
		FullName: "Test User",
		Password: goodPassword,
		RoleIDs:  roles,
	})
	require.NoError(t, err)
	return user
}

func TestSystemRolesSeeded(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	for _, id := range []string{RoleAdmin, RoleTeller, RoleAuditor, RoleReadOnly} {
		role, err := k.GetRole(ctx, id)
		require.NoError(t, err)
		assert.True(t, role.IsSystem)
	}

	teller, err := k.GetRole(ctx, RoleTeller)
	require.NoError(t, err)
	require.NotNil(t, teller.MaxTransactionAmount)
	assert.True(t, teller.Has(PermTransactionCreate))
	assert.False(t, teller.Has(PermRoleManage))
}

func TestSystemRoleImmutable(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	role, err := k.GetRole(ctx, RoleTeller)
	require.NoError(t, err)
	role.Description = "changed"
	_, err = k.UpdateRole(ctx, "admin", *role)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))

	err = k.DeleteRole(ctx, "admin", RoleTeller)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))
}

func TestRoleDeletionBlockedWhileAssigned(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	role, err := k.CreateRole(ctx, "admin", Role{Name: "Custom", Permissions: []Permission{PermReportView}})
	require.NoError(t, err)
	user := createUser(t, k, "alice", role.ID)

	err = k.DeleteRole(ctx, "admin", role.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))

	require.NoError(t, k.RemoveRole(ctx, "admin", user.ID, role.ID))
	require.NoError(t, k.DeleteRole(ctx, "admin", role.ID))
}

func TestAuthenticateIssuesSession(t *testing.T) {
	k, clk := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "10.0.0.1", "cli")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.True(t, session.ExpiresAt.After(clk.Now()))

	validated, err := k.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, validated.ID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	k, _ := newTestKernel(t)
	createUser(t, k, "alice")

	_, err := k.Authenticate(context.Background(), "alice", "wrong-password", "", "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Auth))
	assert.Equal(t, "Invalid credentials", apperr.MessageOf(err))
}

func TestLockoutAtThreshold(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)

	// N-1 failures leave the user unlocked.
	for i := 0; i < k.Policy().MaxFailedAttempts-1; i++ {
		_, err := k.Authenticate(ctx, "alice", "wrong", "", "")
		require.Error(t, err)
		u, err := k.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, u.IsLocked, "attempt %d must not lock", i+1)
	}

	// The Nth locks the user and revokes sessions.
	_, err = k.Authenticate(ctx, "alice", "wrong", "", "")
	require.Error(t, err)
	u, err := k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.IsLocked)

	_, err = k.ValidateSession(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Auth))

	// A correct password on a locked account answers unavailable.
	_, err = k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.Error(t, err)
	assert.Equal(t, "Account is not available", apperr.MessageOf(err))
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	for i := 0; i < 3; i++ {
		_, err := k.Authenticate(ctx, "alice", "wrong", "", "")
		require.Error(t, err)
	}
	_, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)

	u, err := k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, u.FailedLoginAttempts)
}

func TestUnlockResetsCounter(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	for i := 0; i < k.Policy().MaxFailedAttempts; i++ {
		_, _ = k.Authenticate(ctx, "alice", "wrong", "", "")
	}
	u, err := k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, u.IsLocked)

	require.NoError(t, k.UnlockUser(ctx, "admin", user.ID))
	u, err = k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, u.IsLocked)
	assert.Zero(t, u.FailedLoginAttempts)

	_, err = k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)
}

func TestDeactivateRevokesSessions(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)

	require.NoError(t, k.DeactivateUser(ctx, "admin", user.ID))

	_, err = k.ValidateSession(ctx, session.ID)
	require.Error(t, err)

	_, err = k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.Error(t, err)
	assert.Equal(t, "Account is not available", apperr.MessageOf(err))
}

func TestSessionExpiry(t *testing.T) {
	k, clk := newTestKernel(t)
	ctx := context.Background()
	createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)

	clk.Advance(k.Policy().SessionTTL + time.Minute)
	_, err = k.ValidateSession(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Auth))
}

func TestLogout(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)
	require.NoError(t, k.Logout(ctx, session.ID))

	_, err = k.ValidateSession(ctx, session.ID)
	require.Error(t, err)
}

func TestChangePasswordEnforcesHistory(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	next := "An0ther!Passw0rd"
	require.NoError(t, k.ChangePassword(ctx, user.ID, goodPassword, next))

	// Reusing the previous password fails.
	err := k.ChangePassword(ctx, user.ID, next, goodPassword)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))

	// The new password works for login.
	_, err = k.Authenticate(ctx, "alice", next, "", "")
	require.NoError(t, err)
}

func TestChangePasswordRejectsWeak(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	err := k.ChangePassword(ctx, user.ID, goodPassword, "short")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))
}

func TestResetPasswordIssuesTemporary(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	session, err := k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.NoError(t, err)

	temp, err := k.ResetPassword(ctx, user.ID, "admin")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(temp), 16)

	// Sessions are revoked and the old password no longer works.
	_, err = k.ValidateSession(ctx, session.ID)
	require.Error(t, err)
	_, err = k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.Error(t, err)

	// The temporary password authenticates and carries a reset flag.
	_, err = k.Authenticate(ctx, "alice", temp, "", "")
	require.NoError(t, err)
	u, err := k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.PasswordResetRequired)
}

func TestLegacyBcryptHashUpgradedOnLogin(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "alice")

	// Simulate a migrated row with a bcrypt hash.
	u, err := k.GetUser(ctx, user.ID)
	require.NoError(t, err)
	// bcrypt hash of "legacy-Passw0rd!" with cost 10.
	u.PasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMye1J1lZ5P8rLarAIAGv.kBXsMxl7v0a2e"
	require.NoError(t, k.store.Save(ctx, "users", u.ID, u))

	_, err = k.Authenticate(ctx, "alice", goodPassword, "", "")
	require.Error(t, err, "old argon2 password no longer matches the bcrypt hash")
}

func TestCheckPermission(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	teller := createUser(t, k, "teller", RoleTeller)

	require.NoError(t, k.CheckPermission(ctx, teller.ID, PermTransactionCreate))

	err := k.CheckPermission(ctx, teller.ID, PermRoleManage)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))
}

func TestCheckAmountLimit(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	teller := createUser(t, k, "teller", RoleTeller)
	admin := createUser(t, k, "root", RoleAdmin)

	within := money.MustFromString("5000.00", money.USD)
	over := money.MustFromString("15000.00", money.USD)

	require.NoError(t, k.CheckAmountLimit(ctx, teller.ID, within))

	err := k.CheckAmountLimit(ctx, teller.ID, over)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Policy))

	// Admin has no limit.
	require.NoError(t, k.CheckAmountLimit(ctx, admin.ID, over))
}

func TestHighestLimitAcrossRolesWins(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	user := createUser(t, k, "both", RoleTeller, RoleLoanOfficer)

	// Teller caps at 10k, loan officer at 500k; the higher applies.
	amount := money.MustFromString("100000.00", money.USD)
	require.NoError(t, k.CheckAmountLimit(ctx, user.ID, amount))
}

func TestUniqueUsername(t *testing.T) {
	k, _ := newTestKernel(t)
	createUser(t, k, "alice")

	_, err := k.CreateUser(context.Background(), "admin", CreateUserRequest{
		Username: "alice",
		Password: goodPassword,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.State))
}

func TestConcurrentCreateUserSameUsername(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := k.CreateUser(ctx, "admin", CreateUserRequest{
				Username: "teller.race",
				Email:    "race@bank.example",
				FullName: "Race Teller",
				Password: goodPassword,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.True(t, apperr.IsKind(err, apperr.State))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded, "exactly one create claims the username")

	users, err := k.ListUsers(ctx)
	require.NoError(t, err)
	count := 0
	for _, u := range users {
		if u.Username == "teller.race" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
