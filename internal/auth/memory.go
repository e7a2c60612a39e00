package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in memory. It backs local development runs
// without a database and the service-level tests. Uniqueness rules mirror
// the SQL constraints.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[int64]*User
	byProvider map[string]int64
	byUsername map[string]int64
	byEmail    map[string]int64
	tokens     map[string]*RefreshToken
	nextID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[int64]*User),
		byProvider: make(map[string]int64),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		tokens:     make(map[string]*RefreshToken),
	}
}

func (m *MemoryStore) Users(ctx context.Context) UserStore                 { return m }
func (m *MemoryStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return m }

func providerKey(provider, subject string) string { return provider + "\x00" + subject }

func (m *MemoryStore) CreateWithIdentity(ctx context.Context, u *User, identity ProviderIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[u.Email]; ok {
		return ErrAlreadyExists
	}
	if u.Username != "" {
		if _, ok := m.byUsername[u.Username]; ok {
			return ErrAlreadyExists
		}
	}
	if _, ok := m.byProvider[providerKey(identity.Provider, identity.Subject)]; ok {
		return ErrAlreadyExists
	}

	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	m.users[u.ID] = &copied
	m.byEmail[u.Email] = u.ID
	if u.Username != "" {
		m.byUsername[u.Username] = u.ID
	}
	m.byProvider[providerKey(identity.Provider, identity.Subject)] = u.ID
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id)
}

func (m *MemoryStore) findLocked(id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MemoryStore) FindByPublicID(ctx context.Context, publicID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.PublicID == publicID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByProviderSubject(ctx context.Context, provider, subject string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byProvider[providerKey(provider, subject)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.findLocked(id)
}

func (m *MemoryStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return m.findLocked(id)
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return m.findLocked(id)
}

func (m *MemoryStore) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.ID]; ok {
		return ErrAlreadyExists
	}
	tok.CreatedAt = time.Now()
	copied := *tok
	m.tokens[tok.ID] = &copied
	return nil
}

func (m *MemoryStore) FindWithOwner(ctx context.Context, id string) (*RefreshToken, *User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	owner, err := m.findLocked(tok.UserID)
	if err != nil {
		return nil, nil, err
	}
	copied := *tok
	return &copied, owner, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStore) DeleteByUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.tokens {
		if tok.UserID == userID {
			delete(m.tokens, id)
		}
	}
	return nil
}

// UserCount reports the number of stored users. Test helper.
func (m *MemoryStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// RefreshTokenCount reports the number of live refresh token records. Test helper.
func (m *MemoryStore) RefreshTokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// HasRefreshToken reports whether a record with the given id exists. Test helper.
func (m *MemoryStore) HasRefreshToken(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[id]
	return ok
}
