// Package identity holds the session context passed to the countdown and
// presence subsystems: who the account is, what it may do, and what display
// name it goes by.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// MinNicknameLen is the shortest accepted display name after trimming.
const MinNicknameLen = 2

// ErrCancelled is returned when the user abandons the nickname prompt.
var ErrCancelled = errors.New("identity: nickname change cancelled")

// ErrNoNickname marks features that need a display name and cannot resolve
// one; callers disable the feature instead of failing the process.
var ErrNoNickname = errors.New("identity: no nickname resolvable")

// Session is the per-connection identity context. Nickname is mutable (the
// user can rename mid-session); everything else is fixed at sign-in.
type Session struct {
	UserID string
	Admin  bool

	mu       sync.RWMutex
	nickname string
}

// NewSession builds a session with an optional cached nickname.
func NewSession(userID, nickname string, admin bool) *Session {
	return &Session{UserID: userID, Admin: admin, nickname: nickname}
}

// Nickname returns the current display name, possibly empty.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// DisplayName returns the best label for stamping writes; "Unknown" is the
// fallback for sessions with neither a nickname nor a user id.
func (s *Session) DisplayName() string {
	if n := s.Nickname(); n != "" {
		return n
	}
	if s.UserID != "" {
		return s.UserID
	}
	return "Unknown"
}

func (s *Session) setNickname(n string) {
	s.mu.Lock()
	s.nickname = n
	s.mu.Unlock()
}

// Prompter asks the user for input. ok=false means the user cancelled.
type Prompter interface {
	Prompt(message string) (input string, ok bool)
}

// ProfileStore mirrors the chosen nickname into the user's profile record.
type ProfileStore interface {
	Write(ctx context.Context, key string, value any) error
}

// Prefs caches simple local preferences between sessions.
type Prefs interface {
	Get(key string) string
	Set(key, value string) error
	Remove(key string) error
}

// Preference keys.
const (
	PrefNickname = "nickname"
	PrefLang     = "lang"
)

// EnsureNickname prompts until a valid nickname is entered or the user
// cancels, then caches it locally and mirrors it to the profile record.
// Validation is local: nothing reaches the store until the name is valid.
func EnsureNickname(ctx context.Context, sess *Session, p Prompter, prefs Prefs, profile ProfileStore) (string, error) {
	var name string
	for {
		input, ok := p.Prompt(fmt.Sprintf("Enter your new nickname (at least %d characters):", MinNicknameLen))
		if !ok {
			return "", ErrCancelled
		}
		name = strings.TrimSpace(input)
		if utf8.RuneCountInString(name) >= MinNicknameLen {
			break
		}
	}

	sess.setNickname(name)
	if prefs != nil {
		if err := prefs.Set(PrefNickname, name); err != nil {
			log.Warn().Err(err).Msg("could not cache nickname locally")
		}
	}
	if profile != nil && sess.UserID != "" {
		key := "users." + sess.UserID + ".nickname"
		if err := profile.Write(ctx, key, name); err != nil {
			return name, fmt.Errorf("mirror nickname to profile: %w", err)
		}
	}
	return name, nil
}
