package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
)

// memStore is an in-memory user directory and credential store with the same
// uniqueness rules as the Postgres schema. Top level transactions are
// serialized and restored from a snapshot on error.
type memStore struct {
	txLock sync.Mutex

	mu         sync.Mutex
	users      map[int64]*models.User
	tokens     map[int64]*models.RefreshToken
	nextUserID int64
	nextTokID  int64

	calls      int64
	failWith   error
	failOnTake string
}

type memTxKey struct{}

type memTx struct{ ctx context.Context }

func (t *memTx) Commit() error            { return nil }
func (t *memTx) Rollback() error          { return nil }
func (t *memTx) Context() context.Context { return t.ctx }

type memSnapshot struct {
	users      map[int64]models.User
	tokens     map[int64]models.RefreshToken
	nextUserID int64
	nextTokID  int64
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[int64]*models.User),
		tokens: make(map[int64]*models.RefreshToken),
	}
}

func (s *memStore) repos() *repositories.Repositories {
	return &repositories.Repositories{
		Users:         &memUsers{s},
		RefreshTokens: &memTokens{s},
	}
}

// callCount is how many repository calls the store has served
func (s *memStore) callCount() int64 {
	return atomic.LoadInt64(&s.calls)
}

// failNext makes the named repository operation fail once with err
func (s *memStore) failNext(op string, err error) {
	s.mu.Lock()
	s.failOnTake = op
	s.failWith = err
	s.mu.Unlock()
}

// enter counts the call and must be called with s.mu held
func (s *memStore) enter(op string) error {
	atomic.AddInt64(&s.calls, 1)
	if s.failOnTake == op {
		err := s.failWith
		s.failOnTake, s.failWith = "", nil
		return err
	}
	return nil
}

func (s *memStore) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nil, fmt.Errorf("memStore: use InTransaction")
}

func (s *memStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if outer, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx, outer)
	}

	s.txLock.Lock()
	defer s.txLock.Unlock()

	snap := s.snapshot()
	tx := &memTx{}
	tx.ctx = context.WithValue(ctx, memTxKey{}, tx)

	if err := fn(tx.ctx, tx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		users:      make(map[int64]models.User, len(s.users)),
		tokens:     make(map[int64]models.RefreshToken, len(s.tokens)),
		nextUserID: s.nextUserID,
		nextTokID:  s.nextTokID,
	}
	for id, u := range s.users {
		snap.users[id] = *u
	}
	for id, t := range s.tokens {
		snap.tokens[id] = *t
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[int64]*models.User, len(snap.users))
	for id, u := range snap.users {
		u := u
		s.users[id] = &u
	}
	s.tokens = make(map[int64]*models.RefreshToken, len(snap.tokens))
	for id, t := range snap.tokens {
		t := t
		s.tokens[id] = &t
	}
	s.nextUserID = snap.nextUserID
	s.nextTokID = snap.nextTokID
}

// activeTokens lists the user's rows that are neither revoked nor expired
func (s *memStore) activeTokens(userID int64, now time.Time) []models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.IsActive(now) {
			out = append(out, *t)
		}
	}
	return out
}

func (s *memStore) tokenRow(value string) (models.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == value {
			return *t, true
		}
	}
	return models.RefreshToken{}, false
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) user(id int64) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// seedUser inserts a user directly
func (s *memStore) seedUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	c := *u
	s.users[u.ID] = &c
	return u
}

// expireToken moves a token's expiry into the past
func (s *memStore) expireToken(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Token == value {
			t.ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
}

type memUsers struct{ s *memStore }

func (r *memUsers) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.Create"); err != nil {
		return err
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return fmt.Errorf("users_email_key: %w", repositories.ErrDuplicate)
		}
		if user.ExternalID != nil && u.ExternalID != nil && *u.ExternalID == *user.ExternalID {
			return fmt.Errorf("users_external_id_key: %w", repositories.ErrDuplicate)
		}
	}
	r.s.nextUserID++
	user.ID = r.s.nextUserID
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r *memUsers) find(op string, match func(*models.User) bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter(op); err != nil {
		return nil, err
	}
	for _, u := range r.s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("user: %w", repositories.ErrNotFound)
}

func (r *memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.find("users.GetByID", func(u *models.User) bool { return u.ID == id })
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find("users.GetByEmail", func(u *models.User) bool { return u.Email == email })
}

func (r *memUsers) GetByExternalID(ctx context.Context, provider models.AuthProvider, externalID string) (*models.User, error) {
	return r.find("users.GetByExternalID", func(u *models.User) bool {
		return u.AuthProvider == provider && u.ExternalID != nil && *u.ExternalID == externalID
	})
}

func (r *memUsers) LockByID(ctx context.Context, id int64) error {
	_, err := r.find("users.LockByID", func(u *models.User) bool { return u.ID == id })
	return err
}

func (r *memUsers) Update(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.Update"); err != nil {
		return err
	}
	if _, ok := r.s.users[user.ID]; !ok {
		return fmt.Errorf("user %d: %w", user.ID, repositories.ErrNotFound)
	}
	user.UpdatedAt = time.Now().UTC()
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r *memUsers) UpdateLastLogin(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.UpdateLastLogin"); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, repositories.ErrNotFound)
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

func (r *memUsers) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, repositories.ErrNotFound)
	}
	delete(r.s.users, id)
	for tid, t := range r.s.tokens {
		if t.UserID == id {
			delete(r.s.tokens, tid)
		}
	}
	return nil
}

type memTokens struct{ s *memStore }

func (r *memTokens) Create(ctx context.Context, token *models.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.Create"); err != nil {
		return err
	}
	for _, t := range r.s.tokens {
		if t.Token == token.Token {
			return fmt.Errorf("refresh_tokens_token_key: %w", repositories.ErrDuplicate)
		}
		if t.UserID == token.UserID && !t.Revoked && !token.Revoked {
			return fmt.Errorf("idx_refresh_tokens_one_active: %w", repositories.ErrDuplicate)
		}
	}
	r.s.nextTokID++
	token.ID = r.s.nextTokID
	c := *token
	r.s.tokens[token.ID] = &c
	return nil
}

func (r *memTokens) GetByToken(ctx context.Context, value string) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.GetByToken"); err != nil {
		return nil, err
	}
	for _, t := range r.s.tokens {
		if t.Token == value {
			c := *t
			return &c, nil
		}
	}
	return nil, fmt.Errorf("refresh token: %w", repositories.ErrNotFound)
}

func (r *memTokens) RevokeByToken(ctx context.Context, value string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.RevokeByToken"); err != nil {
		return err
	}
	for _, t := range r.s.tokens {
		if t.Token == value {
			t.Revoked = true
		}
	}
	return nil
}

func (r *memTokens) RevokeAllByUser(ctx context.Context, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.RevokeAllByUser"); err != nil {
		return 0, err
	}
	var n int64
	for _, t := range r.s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *memTokens) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.Delete"); err != nil {
		return err
	}
	delete(r.s.tokens, id)
	return nil
}

func (r *memTokens) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("tokens.DeleteByUser"); err != nil {
		return 0, err
	}
	var n int64
	for id, t := range r.s.tokens {
		if t.UserID == userID {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// recordingAudit keeps every recorded event
type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
}

func (a *recordingAudit) actions() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditAction, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}
