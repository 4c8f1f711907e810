package identity

import (
	"context"
	"errors"
	"fmt"
)

// ErrSignedOut is returned when a session is requested but the auth
// collaborator reports no signed-in account.
var ErrSignedOut = errors.New("identity: no account signed in")

// User is what the authentication collaborator knows about an account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Change is one auth-state transition. A nil User means signed out.
type Change struct {
	User *User
}

// Auth is the external authentication collaborator: it reports sign-in state
// transitions and answers capability checks. The real implementation lives
// outside this subsystem.
type Auth interface {
	Changes() <-chan Change
	IsPrivileged(ctx context.Context, userID string) (bool, error)
}

// StaticAuth is the daemon's config-backed Auth: one fixed account, signed in
// at startup.
type StaticAuth struct {
	user  User
	admin bool
	ch    chan Change
}

// NewStaticAuth builds an Auth that immediately reports user as signed in.
func NewStaticAuth(user User, admin bool) *StaticAuth {
	a := &StaticAuth{user: user, admin: admin, ch: make(chan Change, 1)}
	u := a.user
	a.ch <- Change{User: &u}
	return a
}

func (a *StaticAuth) Changes() <-chan Change { return a.ch }

func (a *StaticAuth) IsPrivileged(ctx context.Context, userID string) (bool, error) {
	if userID != a.user.ID {
		return false, nil
	}
	return a.admin, nil
}

// SignOut emits the signed-out transition.
func (a *StaticAuth) SignOut() {
	a.ch <- Change{}
}

// SessionFromAuth waits for the first sign-in transition and builds the
// session from it, resolving the admin flag through the provider. nickname
// overrides the account's display name when non-empty.
func SessionFromAuth(ctx context.Context, a Auth, nickname string) (*Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ch := <-a.Changes():
		if ch.User == nil {
			return nil, ErrSignedOut
		}
		admin, err := a.IsPrivileged(ctx, ch.User.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve privileges: %w", err)
		}
		if nickname == "" {
			nickname = ch.User.DisplayName
		}
		return NewSession(ch.User.ID, nickname, admin), nil
	}
}
