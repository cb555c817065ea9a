package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"otcdesk/internal/models"
	"otcdesk/internal/snapshot"
)

// UserService is the identity registry the presentation layer resolves
// actors against. The engine itself trusts caller-supplied actor ids.
type UserService struct {
	mu    sync.RWMutex
	users map[string]models.User
	store SnapshotStore
}

func NewUserService(state *snapshot.State, store SnapshotStore) *UserService {
	users := make(map[string]models.User, len(state.Users))
	for id, user := range state.Users {
		users[id] = user
	}
	return &UserService{users: users, store: store}
}

// Register creates a user. The very first registered user becomes a
// moderator so a fresh deployment always has someone able to arbitrate.
func (s *UserService) Register(ctx context.Context, username, passwordHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lowered := strings.ToLower(username)
	for _, existing := range s.users {
		if strings.ToLower(existing.Username) == lowered {
			return models.User{}, fmt.Errorf("%w: username already taken", ErrValidation)
		}
	}
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		IsModerator:  len(s.users) == 0,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[user.ID] = user
	if err := s.persistLocked(ctx); err != nil {
		delete(s.users, user.ID)
		return models.User{}, err
	}
	return user, nil
}

func (s *UserService) Get(userID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return user, nil
}

func (s *UserService) GetByUsername(username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lowered := strings.ToLower(username)
	for _, user := range s.users {
		if strings.ToLower(user.Username) == lowered {
			return user, nil
		}
	}
	return models.User{}, fmt.Errorf("%w: user %s", ErrNotFound, username)
}

func (s *UserService) IsModerator(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].IsModerator
}

// Promote grants moderator rights. Only an existing moderator may promote.
func (s *UserService) Promote(ctx context.Context, actorID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.users[actorID].IsModerator {
		return fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	target, ok := s.users[targetID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, targetID)
	}
	if target.IsModerator {
		return nil
	}
	target.IsModerator = true
	s.users[targetID] = target
	return s.persistLocked(ctx)
}

func (s *UserService) persistLocked(ctx context.Context) error {
	users := make(map[string]models.User, len(s.users))
	for id, user := range s.users {
		users[id] = user
	}
	return s.store.Persist(ctx, snapshot.Patch{Users: &snapshot.UsersSection{Users: users}})
}
