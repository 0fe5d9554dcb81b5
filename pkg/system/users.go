package system

import (
	"time"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/statelog"
)

// Stats is GetStats's response shape: coarse server-wide counters (spec.md
// §6 calls GetStats "representative"; exact fields aren't named, so this
// reports what the catalog can answer directly).
type Stats struct {
	StreamsCount int
	UsersCount   int
	ClientsCount int
}

// GetStats reports coarse catalog/connection counters.
func (sys *System) GetStats(userID uint32) (Stats, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadServer, permission.Global()); err != nil {
		return Stats{}, err
	}
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	return Stats{
		StreamsCount: len(sys.streams),
		UsersCount:   len(sys.users),
		ClientsCount: sys.Sessions.Count(),
	}, nil
}

// GetMe returns the caller's own session.
func (sys *System) GetMe(clientID uint32) (*session.Session, error) {
	s, ok := sys.Sessions.Get(clientID)
	if !ok {
		return nil, ierr.NotFound(ierr.CodeUserNotFound, "session not found")
	}
	return s, nil
}

// GetClient returns any session by client ID (spec.md §4.7 ReadServer).
func (sys *System) GetClient(userID uint32, clientID uint32) (*session.Session, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadServer, permission.Global()); err != nil {
		return nil, err
	}
	s, ok := sys.Sessions.Get(clientID)
	if !ok {
		return nil, ierr.NotFound(ierr.CodeUserNotFound, "session not found")
	}
	return s, nil
}

// GetClients lists every live session.
func (sys *System) GetClients(userID uint32) ([]*session.Session, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadServer, permission.Global()); err != nil {
		return nil, err
	}
	return sys.Sessions.All(), nil
}

// CreateUser registers a new account.
func (sys *System) CreateUser(userID uint32, username, password string, isRoot bool) (*User, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ManageUsers, permission.Global()); err != nil {
		return nil, err
	}

	hash, err := session.HashPassword(password)
	if err != nil {
		return nil, err
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()
	if _, taken := sys.usersByName[normalize(username)]; taken {
		return nil, ierr.Conflict(ierr.CodeUserExists, "username already in use")
	}

	id := sys.nextUserID
	u := &User{ID: id, Username: username, PasswordHash: hash, IsRoot: isRoot, CreatedAt: time.Now()}
	rec := statelog.Record{UserID: userID, Code: statelog.CreateUser, Payload: encodeUserRecord(userRecord{ID: id, Username: username, PasswordHash: hash, IsRoot: isRoot})}
	err = sys.stateLog.Apply(rec, func() error {
		sys.users[id] = u
		sys.usersByName[normalize(username)] = id
		sys.nextUserID++
		if isRoot {
			sys.perms[id] = permission.Root()
		} else {
			sys.perms[id] = permission.NewSet()
		}
		return nil
	}, func() {
		delete(sys.users, id)
		delete(sys.usersByName, normalize(username))
		delete(sys.perms, id)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes an account and its permission grants.
func (sys *System) DeleteUser(userID uint32, target uint32) error {
	if err := permission.Check(sys.permsFor(userID), permission.ManageUsers, permission.Global()); err != nil {
		return err
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	u, ok := sys.users[target]
	if !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "user not found")
	}
	rec := statelog.Record{UserID: userID, Code: statelog.DeleteUser, Payload: encodeUserIDRecord(userIDRecord{ID: target})}
	return sys.stateLog.Apply(rec, func() error {
		delete(sys.users, target)
		delete(sys.usersByName, normalize(u.Username))
		delete(sys.perms, target)
		return nil
	}, func() {})
}

// GetUser looks up a user by ID.
func (sys *System) GetUser(userID uint32, target uint32) (*User, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadUsers, permission.Global()); err != nil {
		return nil, err
	}
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	u, ok := sys.users[target]
	if !ok {
		return nil, ierr.NotFound(ierr.CodeUserNotFound, "user not found")
	}
	return u, nil
}

// GetUsers lists every registered user.
func (sys *System) GetUsers(userID uint32) ([]*User, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadUsers, permission.Global()); err != nil {
		return nil, err
	}
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	out := make([]*User, 0, len(sys.users))
	for _, u := range sys.users {
		out = append(out, u)
	}
	return out, nil
}

// UpdateUser changes a user's username.
func (sys *System) UpdateUser(userID uint32, target uint32, newUsername string) error {
	if err := permission.Check(sys.permsFor(userID), permission.ManageUsers, permission.Global()); err != nil {
		return err
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	u, ok := sys.users[target]
	if !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "user not found")
	}
	if _, taken := sys.usersByName[normalize(newUsername)]; taken && normalize(newUsername) != normalize(u.Username) {
		return ierr.Conflict(ierr.CodeUserExists, "username already in use")
	}
	oldName := u.Username
	rec := statelog.Record{UserID: userID, Code: statelog.UpdateUser, Payload: encodeUserRecord(userRecord{ID: u.ID, Username: newUsername, PasswordHash: u.PasswordHash, IsRoot: u.IsRoot})}
	return sys.stateLog.Apply(rec, func() error {
		delete(sys.usersByName, normalize(oldName))
		u.Username = newUsername
		sys.usersByName[normalize(newUsername)] = u.ID
		return nil
	}, func() {
		u.Username = oldName
		delete(sys.usersByName, normalize(newUsername))
		sys.usersByName[normalize(oldName)] = u.ID
	})
}

// UpdatePermissions replaces a user's compiled grant set.
func (sys *System) UpdatePermissions(userID uint32, target uint32, set *permission.Set) error {
	if err := permission.Check(sys.permsFor(userID), permission.ManageUsers, permission.Global()); err != nil {
		return err
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	if _, ok := sys.users[target]; !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "user not found")
	}
	prev := sys.perms[target]
	rec := statelog.Record{UserID: userID, Code: statelog.UpdatePermissions, Payload: encodeUserIDRecord(userIDRecord{ID: target})}
	return sys.stateLog.Apply(rec, func() error { sys.perms[target] = set; return nil }, func() { sys.perms[target] = prev })
}

// ChangePassword updates a user's own password after verifying the
// current one.
func (sys *System) ChangePassword(userID uint32, currentPassword, newPassword string) error {
	sys.mu.Lock()
	u, ok := sys.users[userID]
	sys.mu.Unlock()
	if !ok {
		return ierr.NotFound(ierr.CodeUserNotFound, "user not found")
	}
	if !session.VerifyPassword(u.PasswordHash, currentPassword) {
		return ierr.InvalidCredentials()
	}
	hash, err := session.HashPassword(newPassword)
	if err != nil {
		return err
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()
	oldHash := u.PasswordHash
	rec := statelog.Record{UserID: userID, Code: statelog.UpdateUser, Payload: encodeUserRecord(userRecord{ID: u.ID, Username: u.Username, PasswordHash: hash, IsRoot: u.IsRoot})}
	return sys.stateLog.Apply(rec, func() error { u.PasswordHash = hash; return nil }, func() { u.PasswordHash = oldHash })
}

// LoginUser authenticates by username/password and marks clientID's
// session authenticated.
func (sys *System) LoginUser(clientID uint32, username, password string) (uint32, error) {
	u, ok := sys.resolveUserByName(username)
	if !ok || !session.VerifyPassword(u.PasswordHash, password) {
		return 0, ierr.InvalidCredentials()
	}
	if err := sys.Sessions.Authenticate(clientID, u.ID); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// LogoutUser deauthenticates clientID's session without destroying it.
func (sys *System) LogoutUser(clientID uint32) error {
	return sys.Sessions.Deauthenticate(clientID)
}

// CreatePersonalAccessToken mints a new PAT for userID, returning its
// one-time plaintext form.
func (sys *System) CreatePersonalAccessToken(userID uint32, name string, expiry *time.Duration) (string, error) {
	token, err := session.GenerateToken()
	if err != nil {
		return "", err
	}
	digest := session.DigestToken(token)

	sys.mu.Lock()
	defer sys.mu.Unlock()
	if _, taken := sys.pats[name]; taken {
		return "", ierr.Conflict(ierr.CodeNameTaken, "personal access token name already in use")
	}

	var expiresAt *time.Time
	var expiryMicros uint64
	if expiry != nil {
		t := time.Now().Add(*expiry)
		expiresAt = &t
		expiryMicros = uint64(t.UnixMicro())
	}

	rec := statelog.Record{UserID: userID, Code: statelog.CreatePersonalAccessToken, Payload: encodePATRecord(patRecord{Name: name, UserID: userID, Digest: digest, ExpiresAtMicros: expiryMicros})}
	err = sys.stateLog.Apply(rec, func() error {
		sys.pats[name] = &PersonalAccessToken{Name: name, UserID: userID, Digest: digest, CreatedAt: time.Now(), ExpiresAt: expiresAt}
		return nil
	}, func() { delete(sys.pats, name) })
	if err != nil {
		return "", err
	}
	return token, nil
}

// DeletePersonalAccessToken revokes a user's own PAT by name.
func (sys *System) DeletePersonalAccessToken(userID uint32, name string) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	pat, ok := sys.pats[name]
	if !ok || pat.UserID != userID {
		return ierr.NotFound(ierr.CodePATNotFound, "personal access token not found")
	}
	rec := statelog.Record{UserID: userID, Code: statelog.DeletePersonalAccessToken, Payload: encodePATNameRecord(patNameRecord{Name: name})}
	return sys.stateLog.Apply(rec, func() error { delete(sys.pats, name); return nil }, func() {})
}

// GetPersonalAccessTokens lists userID's own tokens (never their digests).
func (sys *System) GetPersonalAccessTokens(userID uint32) ([]*PersonalAccessToken, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	var out []*PersonalAccessToken
	for _, pat := range sys.pats {
		if pat.UserID == userID {
			out = append(out, pat)
		}
	}
	return out, nil
}

// LoginWithPersonalAccessToken authenticates clientID's session via a PAT.
func (sys *System) LoginWithPersonalAccessToken(clientID uint32, token string) (uint32, error) {
	digest := session.DigestToken(token)

	sys.mu.RLock()
	var match *PersonalAccessToken
	for _, pat := range sys.pats {
		if session.TokensEqual(pat.Digest, digest) {
			match = pat
			break
		}
	}
	sys.mu.RUnlock()

	if match == nil {
		return 0, ierr.InvalidCredentials()
	}
	if match.ExpiresAt != nil && time.Now().After(*match.ExpiresAt) {
		return 0, ierr.InvalidCredentials()
	}
	if err := sys.Sessions.Authenticate(clientID, match.UserID); err != nil {
		return 0, err
	}
	return match.UserID, nil
}
