// Package access is the access-control kernel: roles, permissions,
// sessions, password policy, and amount limits. Every write into the
// core is gated through it, and every mutation it performs is
// audit-logged.
package access

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexum/internal/audit"
	"nexum/internal/storage"
	"nexum/pkg/apperr"
	"nexum/pkg/clock"
	"nexum/pkg/money"
)

// Messages that are part of the behavioural contract: an unavailable
// account answers identically whether the password is right or wrong.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountUnavailable = "Account is not available"
)

// Kernel implements the access-control operations.
type Kernel struct {
	store  storage.Storage
	trail  audit.Recorder
	clock  clock.Clock
	policy PasswordPolicy
	logger *zap.Logger
}

// NewKernel creates the kernel and seeds the system roles if they are
// not present yet.
func NewKernel(ctx context.Context, store storage.Storage, trail audit.Recorder, clk clock.Clock, policy PasswordPolicy, logger *zap.Logger) (*Kernel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Kernel{store: store, trail: trail, clock: clk, policy: policy, logger: logger}
	if err := k.seedSystemRoles(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// Policy returns the active password policy.
func (k *Kernel) Policy() PasswordPolicy {
	return k.policy
}

func (k *Kernel) seedSystemRoles(ctx context.Context) error {
	for _, def := range systemRoleDefs {
		ok, err := k.store.Exists(ctx, storage.TableRoles, def.ID)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		role := def
		role.CreatedAt = k.clock.Now()
		role.UpdatedAt = role.CreatedAt
		if err := k.store.Save(ctx, storage.TableRoles, role.ID, role); err != nil {
			return err
		}
	}
	return nil
}

// --- Roles ---

// CreateRole creates a custom role.
func (k *Kernel) CreateRole(ctx context.Context, actor string, role Role) (*Role, error) {
	const op = "access.CreateRole"
	if role.Name == "" {
		return nil, apperr.E(apperr.Validation, op, "role name is required")
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	ok, err := k.store.Exists(ctx, storage.TableRoles, role.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, apperr.Ef(apperr.State, op, "role %s already exists", role.ID)
	}
	role.IsSystem = false
	role.CreatedAt = k.clock.Now()
	role.UpdatedAt = role.CreatedAt
	if err := k.store.Save(ctx, storage.TableRoles, role.ID, role); err != nil {
		return nil, err
	}
	k.audit(ctx, "role.created", "role", role.ID, actor, map[string]string{"name": role.Name})
	return &role, nil
}

// GetRole loads a role by id.
func (k *Kernel) GetRole(ctx context.Context, id string) (*Role, error) {
	var role Role
	if err := k.store.Load(ctx, storage.TableRoles, id, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// ListRoles returns every role.
func (k *Kernel) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := k.store.LoadAll(ctx, storage.TableRoles)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(rows))
	for _, row := range rows {
		var role Role
		if err := row.Decode(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// UpdateRole mutates a custom role. System roles are immutable.
func (k *Kernel) UpdateRole(ctx context.Context, actor string, role Role) (*Role, error) {
	const op = "access.UpdateRole"
	existing, err := k.GetRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, apperr.Ef(apperr.Policy, op, "system role %s is immutable", role.ID)
	}
	role.IsSystem = false
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = k.clock.Now()
	if err := k.store.Save(ctx, storage.TableRoles, role.ID, role); err != nil {
		return nil, err
	}
	k.audit(ctx, "role.updated", "role", role.ID, actor, nil)
	return &role, nil
}

// DeleteRole removes a custom role. Fails while any user still holds it.
func (k *Kernel) DeleteRole(ctx context.Context, actor, roleID string) error {
	const op = "access.DeleteRole"
	role, err := k.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperr.Ef(apperr.Policy, op, "system role %s cannot be deleted", roleID)
	}
	holders, err := k.usersWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	if holders > 0 {
		return apperr.Ef(apperr.Policy, op, "role %s is still assigned to %d user(s)", roleID, holders)
	}
	if _, err := k.store.Delete(ctx, storage.TableRoles, roleID); err != nil {
		return err
	}
	k.audit(ctx, "role.deleted", "role", roleID, actor, nil)
	return nil
}

func (k *Kernel) usersWithRole(ctx context.Context, roleID string) (int, error) {
	rows, err := k.store.Find(ctx, storage.TableUsers, func(row storage.Row) bool {
		var u User
		if err := row.Decode(&u); err != nil {
			return false
		}
		for _, id := range u.RoleIDs {
			if id == roleID {
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// --- Users ---

// CreateUserRequest carries the fields for a new user.
type CreateUserRequest struct {
	Username string
	Email    string
	FullName string
	Password string
	RoleIDs  []string
	BranchID string
}

// CreateUser creates an active user with a policy-validated password.
func (k *Kernel) CreateUser(ctx context.Context, actor string, req CreateUserRequest) (*User, error) {
	const op = "access.CreateUser"
	if req.Username == "" {
		return nil, apperr.E(apperr.Validation, op, "username is required")
	}
	if err := k.policy.Validate(req.Password); err != nil {
		return nil, err
	}
	for _, roleID := range req.RoleIDs {
		if _, err := k.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Auth, op, err)
	}

	now := k.clock.Now()
	user := User{
		ID:                uuid.NewString(),
		Username:          req.Username,
		Email:             req.Email,
		FullName:          req.FullName,
		RoleIDs:           append([]string(nil), req.RoleIDs...),
		IsActive:          true,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		BranchID:          req.BranchID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	// Uniqueness check and insert share one atomic region so racing
	// creates cannot both claim the username.
	err = k.store.Atomic(ctx, func(ctx context.Context, tx storage.Storage) error {
		existing, err := findUserByUsernameIn(ctx, tx, req.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Ef(apperr.State, op, "username %s is taken", req.Username)
		}
		return tx.Save(ctx, storage.TableUsers, user.ID, user)
	})
	if err != nil {
		return nil, err
	}
	k.audit(ctx, "user.created", "user", user.ID, actor, map[string]string{"username": user.Username})
	return &user, nil
}

// GetUser loads a user by id.
func (k *Kernel) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := k.store.Load(ctx, storage.TableUsers, id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername loads a user by unique username.
func (k *Kernel) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := k.findUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Ef(apperr.NotFound, "access.GetUserByUsername", "user %s not found", username)
	}
	return user, nil
}

func (k *Kernel) findUserByUsername(ctx context.Context, username string) (*User, error) {
	return findUserByUsernameIn(ctx, k.store, username)
}

func findUserByUsernameIn(ctx context.Context, store storage.Storage, username string) (*User, error) {
	rows, err := store.Find(ctx, storage.TableUsers, func(row storage.Row) bool {
		var u User
		if err := row.Decode(&u); err != nil {
			return false
		}
		return u.Username == username
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var user User
	if err := rows[0].Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every user.
func (k *Kernel) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := k.store.LoadAll(ctx, storage.TableUsers)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		var user User
		if err := row.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// UpdateUser persists profile mutations (email, full name, branch).
func (k *Kernel) UpdateUser(ctx context.Context, actor string, user User) (*User, error) {
	existing, err := k.GetUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	existing.Email = user.Email
	existing.FullName = user.FullName
	existing.BranchID = user.BranchID
	existing.UpdatedAt = k.clock.Now()
	if err := k.store.Save(ctx, storage.TableUsers, existing.ID, existing); err != nil {
		return nil, err
	}
	k.audit(ctx, "user.updated", "user", existing.ID, actor, nil)
	return existing, nil
}

// ActivateUser re-enables a deactivated user and clears any lock.
func (k *Kernel) ActivateUser(ctx context.Context, actor, userID string) error {
	return k.mutateUser(ctx, actor, userID, "user.activated", func(u *User) {
		u.IsActive = true
		u.IsLocked = false
		u.FailedLoginAttempts = 0
	})
}

// DeactivateUser disables a user and revokes all their sessions.
func (k *Kernel) DeactivateUser(ctx context.Context, actor, userID string) error {
	if err := k.mutateUser(ctx, actor, userID, "user.deactivated", func(u *User) {
		u.IsActive = false
	}); err != nil {
		return err
	}
	return k.revokeUserSessions(ctx, userID, actor)
}

// LockUser locks a user and revokes all their sessions.
func (k *Kernel) LockUser(ctx context.Context, actor, userID string) error {
	if err := k.mutateUser(ctx, actor, userID, "user.locked", func(u *User) {
		u.IsLocked = true
	}); err != nil {
		return err
	}
	return k.revokeUserSessions(ctx, userID, actor)
}

// UnlockUser clears a lock and resets the failure counter.
func (k *Kernel) UnlockUser(ctx context.Context, actor, userID string) error {
	return k.mutateUser(ctx, actor, userID, "user.unlocked", func(u *User) {
		u.IsLocked = false
		u.FailedLoginAttempts = 0
	})
}

// AssignRole appends a role to the user's role list.
func (k *Kernel) AssignRole(ctx context.Context, actor, userID, roleID string) error {
	const op = "access.AssignRole"
	if _, err := k.GetRole(ctx, roleID); err != nil {
		return err
	}
	return k.mutateUserEvent(ctx, actor, userID, "role.assigned",
		map[string]string{"role_id": roleID},
		func(u *User) error {
			for _, id := range u.RoleIDs {
				if id == roleID {
					return apperr.Ef(apperr.State, op, "user already holds role %s", roleID)
				}
			}
			u.RoleIDs = append(u.RoleIDs, roleID)
			return nil
		})
}

// RemoveRole removes a role from the user's role list.
func (k *Kernel) RemoveRole(ctx context.Context, actor, userID, roleID string) error {
	const op = "access.RemoveRole"
	return k.mutateUserEvent(ctx, actor, userID, "role.removed",
		map[string]string{"role_id": roleID},
		func(u *User) error {
			for i, id := range u.RoleIDs {
				if id == roleID {
					u.RoleIDs = append(u.RoleIDs[:i], u.RoleIDs[i+1:]...)
					return nil
				}
			}
			return apperr.Ef(apperr.NotFound, op, "user does not hold role %s", roleID)
		})
}

func (k *Kernel) mutateUser(ctx context.Context, actor, userID, event string, mutate func(*User)) error {
	return k.mutateUserEvent(ctx, actor, userID, event, nil, func(u *User) error {
		mutate(u)
		return nil
	})
}

func (k *Kernel) mutateUserEvent(ctx context.Context, actor, userID, event string, meta map[string]string, mutate func(*User) error) error {
	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := mutate(user); err != nil {
		return err
	}
	user.UpdatedAt = k.clock.Now()
	if err := k.store.Save(ctx, storage.TableUsers, user.ID, user); err != nil {
		return err
	}
	k.audit(ctx, event, "user", user.ID, actor, meta)
	return nil
}

// --- Authentication and sessions ---

// Authenticate verifies credentials and issues a session.
//
// Failed attempts increment the user's counter; reaching the policy
// threshold locks the user and revokes their sessions. A successful
// authentication resets the counter and transparently upgrades legacy
// password hashes.
func (k *Kernel) Authenticate(ctx context.Context, username, password, ip, userAgent string) (*Session, error) {
	const op = "access.Authenticate"

	user, err := k.findUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		k.audit(ctx, "auth.failed", "user", username, username, map[string]string{"reason": "unknown_user"})
		return nil, apperr.E(apperr.Auth, op, msgInvalidCredentials)
	}
	if !user.Authenticable() {
		k.audit(ctx, "auth.failed", "user", user.ID, username, map[string]string{"reason": "unavailable"})
		return nil, apperr.E(apperr.Auth, op, msgAccountUnavailable)
	}

	ok, upgraded := verifyPassword(password, user.PasswordHash)
	if !ok {
		user.FailedLoginAttempts++
		locked := user.FailedLoginAttempts >= k.policy.MaxFailedAttempts
		if locked {
			user.IsLocked = true
		}
		user.UpdatedAt = k.clock.Now()
		if err := k.store.Save(ctx, storage.TableUsers, user.ID, user); err != nil {
			return nil, err
		}
		k.audit(ctx, "auth.failed", "user", user.ID, username, map[string]string{"reason": "bad_password"})
		if locked {
			if err := k.revokeUserSessions(ctx, user.ID, "system"); err != nil {
				return nil, err
			}
			k.audit(ctx, "auth.lockout", "user", user.ID, "system", nil)
			k.logger.Warn("user locked after repeated failures",
				zap.String("user_id", user.ID),
				zap.Int("attempts", user.FailedLoginAttempts))
		}
		return nil, apperr.E(apperr.Auth, op, msgInvalidCredentials)
	}

	now := k.clock.Now()
	user.FailedLoginAttempts = 0
	user.LastLogin = &now
	if upgraded {
		if rehash, err := hashPassword(password); err == nil {
			user.PasswordHash = rehash
			user.PasswordSalt = ""
		}
	}
	if k.policy.MaxAge > 0 && now.Sub(user.PasswordChangedAt) > k.policy.MaxAge {
		user.PasswordResetRequired = true
	}
	user.UpdatedAt = now
	if err := k.store.Save(ctx, storage.TableUsers, user.ID, user); err != nil {
		return nil, err
	}

	session := Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(k.policy.SessionTTL),
		IsActive:  true,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := k.store.Save(ctx, storage.TableSessions, session.ID, session); err != nil {
		return nil, err
	}
	k.audit(ctx, "auth.success", "user", user.ID, username, nil)
	k.audit(ctx, "session.issued", "session", session.ID, username, map[string]string{"user_id": user.ID})
	return &session, nil
}

// ValidateSession returns the owning user of a live session, or an Auth
// error for a missing, revoked, or expired session or an unavailable user.
func (k *Kernel) ValidateSession(ctx context.Context, sessionID string) (*User, error) {
	const op = "access.ValidateSession"

	var session Session
	if err := k.store.Load(ctx, storage.TableSessions, sessionID, &session); err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return nil, apperr.E(apperr.Auth, op, "invalid session")
		}
		return nil, err
	}
	if !session.Valid(k.clock.Now()) {
		return nil, apperr.E(apperr.Auth, op, "session expired or revoked")
	}
	user, err := k.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Authenticable() {
		return nil, apperr.E(apperr.Auth, op, msgAccountUnavailable)
	}
	return user, nil
}

// Logout revokes one session.
func (k *Kernel) Logout(ctx context.Context, sessionID string) error {
	var session Session
	if err := k.store.Load(ctx, storage.TableSessions, sessionID, &session); err != nil {
		return err
	}
	session.IsActive = false
	if err := k.store.Save(ctx, storage.TableSessions, session.ID, session); err != nil {
		return err
	}
	k.audit(ctx, "session.revoked", "session", session.ID, session.UserID, nil)
	return nil
}

func (k *Kernel) revokeUserSessions(ctx context.Context, userID, actor string) error {
	rows, err := k.store.Find(ctx, storage.TableSessions, func(row storage.Row) bool {
		var s Session
		if err := row.Decode(&s); err != nil {
			return false
		}
		return s.UserID == userID && s.IsActive
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		var s Session
		if err := row.Decode(&s); err != nil {
			return err
		}
		s.IsActive = false
		if err := k.store.Save(ctx, storage.TableSessions, s.ID, s); err != nil {
			return err
		}
		k.audit(ctx, "session.revoked", "session", s.ID, actor, map[string]string{"user_id": userID})
	}
	return nil
}

// --- Passwords ---

// ChangePassword verifies the old password and sets a new one that passes
// policy and is not in the bounded password history.
func (k *Kernel) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	const op = "access.ChangePassword"

	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if ok, _ := verifyPassword(oldPassword, user.PasswordHash); !ok {
		return apperr.E(apperr.Auth, op, msgInvalidCredentials)
	}
	if err := k.policy.Validate(newPassword); err != nil {
		return err
	}
	if ok, _ := verifyPassword(newPassword, user.PasswordHash); ok {
		return apperr.E(apperr.Policy, op, "new password must differ from current password")
	}
	for _, prev := range user.PasswordHistory {
		if ok, _ := verifyPassword(newPassword, prev); ok {
			return apperr.Ef(apperr.Policy, op,
				"password was used within the last %d changes", k.policy.HistorySize)
		}
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.Auth, op, err)
	}
	user.PasswordHistory = append([]string{user.PasswordHash}, user.PasswordHistory...)
	if len(user.PasswordHistory) > k.policy.HistorySize {
		user.PasswordHistory = user.PasswordHistory[:k.policy.HistorySize]
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = k.clock.Now()
	user.PasswordResetRequired = false
	user.UpdatedAt = user.PasswordChangedAt
	if err := k.store.Save(ctx, storage.TableUsers, user.ID, user); err != nil {
		return err
	}
	k.audit(ctx, "password.changed", "user", user.ID, user.Username, nil)
	return nil
}

// ResetPassword sets a one-time temporary password on behalf of an admin
// and revokes the user's sessions. The temporary password is returned
// once and never stored in clear.
func (k *Kernel) ResetPassword(ctx context.Context, userID, adminID string) (string, error) {
	const op = "access.ResetPassword"

	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	temp, err := generateTempPassword(k.policy)
	if err != nil {
		return "", apperr.Wrap(apperr.Auth, op, err)
	}
	hash, err := hashPassword(temp)
	if err != nil {
		return "", apperr.Wrap(apperr.Auth, op, err)
	}

	now := k.clock.Now()
	if user.PasswordHash != "" {
		user.PasswordHistory = append([]string{user.PasswordHash}, user.PasswordHistory...)
		if len(user.PasswordHistory) > k.policy.HistorySize {
			user.PasswordHistory = user.PasswordHistory[:k.policy.HistorySize]
		}
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = now
	user.PasswordResetRequired = true
	user.UpdatedAt = now
	if err := k.store.Save(ctx, storage.TableUsers, user.ID, user); err != nil {
		return "", err
	}
	if err := k.revokeUserSessions(ctx, userID, adminID); err != nil {
		return "", err
	}
	k.audit(ctx, "password.reset", "user", user.ID, adminID, nil)
	return temp, nil
}

// --- Checks ---

// CheckPermission fails with a Policy error unless one of the user's
// roles grants the permission.
func (k *Kernel) CheckPermission(ctx context.Context, userID string, perm Permission) error {
	const op = "access.CheckPermission"
	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, roleID := range user.RoleIDs {
		role, err := k.GetRole(ctx, roleID)
		if err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				continue
			}
			return err
		}
		if role.Has(perm) {
			return nil
		}
	}
	return apperr.Ef(apperr.Policy, op, "permission denied: %s", perm)
}

// CheckAmountLimit fails with a Policy error when the amount exceeds the
// highest transaction limit across the user's roles. A role without a
// limit grants unlimited amounts.
func (k *Kernel) CheckAmountLimit(ctx context.Context, userID string, amount money.Money) error {
	return k.checkLimit(ctx, userID, amount, "transaction",
		func(r *Role) *money.Money { return r.MaxTransactionAmount })
}

// CheckApprovalLimit is CheckAmountLimit for approval authority.
func (k *Kernel) CheckApprovalLimit(ctx context.Context, userID string, amount money.Money) error {
	return k.checkLimit(ctx, userID, amount, "approval",
		func(r *Role) *money.Money { return r.MaxApprovalAmount })
}

func (k *Kernel) checkLimit(ctx context.Context, userID string, amount money.Money, kind string, pick func(*Role) *money.Money) error {
	const op = "access.CheckAmountLimit"
	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	var max *money.Money
	for _, roleID := range user.RoleIDs {
		role, err := k.GetRole(ctx, roleID)
		if err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				continue
			}
			return err
		}
		limit := pick(role)
		if limit == nil {
			return nil // unlimited
		}
		if max == nil {
			max = limit
			continue
		}
		if cmp, err := limit.Cmp(*max); err == nil && cmp > 0 {
			max = limit
		}
	}
	if max == nil {
		// No roles carry a limit and none granted unlimited: deny.
		return apperr.Ef(apperr.Policy, op, "no %s authority", kind)
	}
	cmp, err := amount.Cmp(*max)
	if err != nil {
		return apperr.Wrap(apperr.Policy, op, err)
	}
	if cmp > 0 {
		return apperr.Ef(apperr.Policy, op,
			"amount %s exceeds %s limit %s", amount, kind, max)
	}
	return nil
}

func (k *Kernel) audit(ctx context.Context, eventType, entityType, entityID, actor string, meta map[string]string) {
	err := k.trail.Record(ctx, audit.Event{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Metadata:   meta,
	})
	if err != nil {
		k.logger.Error("audit write failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
