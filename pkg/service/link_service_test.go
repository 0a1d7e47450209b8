package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/clicks"
	"shortlink/pkg/config"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is an in-memory LinkStorage that mirrors the partial unique
// index: only active rows hold their code.
type memStorage struct {
	mu     sync.Mutex
	links  map[uuid.UUID]*storage.ShortLink
	events []*storage.ClickEvent
}

func newMemStorage() *memStorage {
	return &memStorage{links: make(map[uuid.UUID]*storage.ShortLink)}
}

func (m *memStorage) Insert(ctx context.Context, link *storage.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.links {
		if existing.IsActive && existing.ShortCode == link.ShortCode {
			return storage.ErrDuplicateCode
		}
	}
	cp := *link
	m.links[link.ID] = &cp
	return nil
}

func (m *memStorage) GetActiveByCode(ctx context.Context, code string) (*storage.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.IsActive && link.ShortCode == code {
			cp := *link
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStorage) GetByID(ctx context.Context, id uuid.UUID) (*storage.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[id]; ok {
		cp := *link
		return &cp, nil
	}
	return nil, nil
}

func (m *memStorage) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*storage.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []*storage.ShortLink
	for _, link := range m.links {
		if link.IsActive && link.OwnerID == ownerID {
			cp := *link
			links = append(links, &cp)
		}
	}
	if offset >= len(links) {
		return nil, nil
	}
	links = links[offset:]
	if len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (m *memStorage) Update(ctx context.Context, link *storage.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.links[link.ID]; ok {
		existing.Title = link.Title
		existing.Description = link.Description
		existing.Tags = link.Tags
		existing.PasswordHash = link.PasswordHash
		existing.ExpiresAt = link.ExpiresAt
		existing.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *memStorage) Deactivate(ctx context.Context, id, ownerID uuid.UUID) (*storage.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok || link.OwnerID != ownerID || !link.IsActive {
		return nil, nil
	}
	link.IsActive = false
	cp := *link
	return &cp, nil
}

func (m *memStorage) ReleaseIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.IsActive && link.ShortCode == code && link.ExpiresAt != nil && !now.Before(*link.ExpiresAt) {
			link.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (m *memStorage) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, link := range m.links {
		if link.IsActive && link.ExpiresAt != nil && !now.Before(*link.ExpiresAt) {
			link.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memStorage) RecordClick(ctx context.Context, event *storage.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[event.LinkID]; ok {
		link.ClickCount++
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memStorage) Ping(ctx context.Context) error { return nil }

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// memCache is an in-memory LinkCacheInterface. TTLs are ignored; tests that
// care about staleness exercise explicit invalidation instead.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*cache.CachedLink
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*cache.CachedLink)}
}

func (c *memCache) Get(ctx context.Context, code string) (*cache.CachedLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[code]; ok {
		cp := *entry
		return &cp, nil
	}
	return nil, nil
}

func (c *memCache) Set(ctx context.Context, code string, link *cache.CachedLink, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *link
	c.entries[code] = &cp
	return nil
}

func (c *memCache) Delete(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:        "http://localhost:8080",
		CodeLength:     7,
		MaxAttempts:    12,
		ResolveTimeout: 2 * time.Second,
	}
}

func newTestService(t *testing.T, store storage.LinkStorage) (*LinkService, *clicks.Recorder) {
	t.Helper()
	logger := logging.NewLogger("error")
	recorder := clicks.NewRecorder(store, logger, 2, 256)
	svc := NewLinkService(store, newMemCache(), recorder, logger, testConfig())
	return svc, recorder
}

func TestCreateLinkGeneratesCode(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	owner := uuid.New()
	link, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL: "https://example.com/path",
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-zA-Z]{7}$`), link.ShortCode)
	assert.Equal(t, owner, link.OwnerID)
	assert.True(t, link.IsActive)
	assert.NotEqual(t, uuid.Nil, link.ID)
}

func TestCreateLinkRejectsInvalidURL(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	tests := []string{
		"not-a-url",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"http://",
		"http://127.0.0.1/admin",
		"http://localhost:8080/x",
	}
	for _, target := range tests {
		_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{TargetURL: target})
		assert.ErrorIs(t, err, ErrInvalidURL, "target %q", target)
	}
	assert.Zero(t, store.count(), "validation failures must not reach storage")
}

func TestCreateLinkCustomAlias(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	alias := "my-link"
	link, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.com",
		CustomAlias: &alias,
	})
	require.NoError(t, err)
	assert.Equal(t, "my-link", link.ShortCode)

	// Same alias while the first is active conflicts.
	_, err = svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.org",
		CustomAlias: &alias,
	})
	assert.ErrorIs(t, err, ErrAliasConflict)
}

func TestCreateLinkAliasFormat(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	for alias, want := range map[string]error{
		"ab":        ErrAliasFormat,
		"bad alias": ErrAliasFormat,
		"admin":     ErrAliasConflict,
	} {
		a := alias
		_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
			TargetURL:   "https://example.com",
			CustomAlias: &a,
		})
		assert.ErrorIs(t, err, want, "alias %q", alias)
	}
	assert.Zero(t, store.count())
}

func TestCreateLinkAliasReuseAfterDelete(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	owner := uuid.New()
	alias := "reusable"
	link, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL:   "https://example.com",
		CustomAlias: &alias,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLink(context.Background(), owner, link.ID))

	again, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL:   "https://example.org",
		CustomAlias: &alias,
	})
	require.NoError(t, err)
	assert.Equal(t, "reusable", again.ShortCode)
}

func TestCreateLinkAliasReuseAfterExpiry(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	past := time.Now().Add(-time.Hour)
	alias := "expired-alias"
	_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.com",
		CustomAlias: &alias,
		ExpiresAt:   &past,
	})
	require.NoError(t, err)

	// The expired holder is released lazily and the alias rebound.
	again, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.org",
		CustomAlias: &alias,
	})
	require.NoError(t, err)
	assert.Equal(t, alias, again.ShortCode)

	res, err := svc.Resolve(context.Background(), alias)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", res.TargetURL)
}

// saturatedStorage reports every code as taken.
type saturatedStorage struct {
	memStorage
	attempts int
}

func (s *saturatedStorage) Insert(ctx context.Context, link *storage.ShortLink) error {
	s.attempts++
	return storage.ErrDuplicateCode
}

func TestCreateLinkGenerationExhausted(t *testing.T) {
	store := &saturatedStorage{}
	logger := logging.NewLogger("error")
	recorder := clicks.NewRecorder(store, logger, 1, 16)
	defer recorder.Close()
	svc := NewLinkService(store, newMemCache(), recorder, logger, testConfig())

	_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL: "https://example.com",
	})
	assert.ErrorIs(t, err, ErrGenerationExhausted)
	assert.Equal(t, 12, store.attempts)
}

func TestResolveRoundtrip(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	link, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL: "https://example.com/path?q=1",
	})
	require.NoError(t, err)

	res, err := svc.Resolve(context.Background(), link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path?q=1", res.TargetURL)
	assert.Equal(t, link.ID, res.LinkID)
	assert.Equal(t, link.OwnerID, res.OwnerID)
}

func TestResolveUnknownCode(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	_, err := svc.Resolve(context.Background(), "nothere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveExpired(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	past := time.Now().Add(-time.Minute)
	owner := uuid.New()
	link, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL: "https://example.com",
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), link.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)

	// The record stays readable through the owner's listing surface.
	got, err := svc.GetLink(context.Background(), owner, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.ShortCode, got.ShortCode)
}

func TestResolveDeleted(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	owner := uuid.New()
	link, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL: "https://example.com",
	})
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), link.ShortCode)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLink(context.Background(), owner, link.ID))

	_, err = svc.Resolve(context.Background(), link.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound, "cached entry must be invalidated on delete")
}

func TestResolveNegativeCacheInvalidatedOnCreate(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	alias := "soon-exists"
	_, err := svc.Resolve(context.Background(), alias)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.com",
		CustomAlias: &alias,
	})
	require.NoError(t, err)

	res, err := svc.Resolve(context.Background(), alias)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.TargetURL)
}

func TestConcurrentClicks(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)

	link, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL: "https://example.com",
	})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Resolve(context.Background(), link.ShortCode)
			if assert.NoError(t, err) {
				svc.RecordClick(res, ClickMeta{UserAgent: "test-agent", IP: "203.0.113.7"})
			}
		}()
	}
	wg.Wait()
	recorder.Close() // drain

	got, err := svc.GetLink(context.Background(), link.OwnerID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.ClickCount, "every click must be counted exactly once")
}

func TestUpdateLink(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	owner := uuid.New()
	link, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
		TargetURL: "https://example.com",
		Title:     "before",
	})
	require.NoError(t, err)

	title := "after"
	future := time.Now().Add(time.Hour)
	updated, err := svc.UpdateLink(context.Background(), owner, link.ID, &UpdateLinkRequest{
		Title:     &title,
		ExpiresAt: &future,
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	require.NotNil(t, updated.ExpiresAt)

	// Someone else's link is indistinguishable from a missing one.
	_, err = svc.UpdateLink(context.Background(), uuid.New(), link.ID, &UpdateLinkRequest{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLinkNotOwner(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	link, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL: "https://example.com",
	})
	require.NoError(t, err)

	err = svc.DeleteLink(context.Background(), uuid.New(), link.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLinks(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	owner := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateLink(context.Background(), owner, &CreateLinkRequest{
			TargetURL: "https://example.com",
		})
		require.NoError(t, err)
	}
	_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL: "https://example.org",
	})
	require.NoError(t, err)

	links, err := svc.ListLinks(context.Background(), owner, 0, 0)
	require.NoError(t, err)
	assert.Len(t, links, 3)

	page, err := svc.ListLinks(context.Background(), owner, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestVerifyPassword(t *testing.T) {
	store := newMemStorage()
	svc, recorder := newTestService(t, store)
	defer recorder.Close()

	password := "hunter2"
	alias := "secret-link"
	_, err := svc.CreateLink(context.Background(), uuid.New(), &CreateLinkRequest{
		TargetURL:   "https://example.com",
		CustomAlias: &alias,
		Password:    &password,
	})
	require.NoError(t, err)

	assert.NoError(t, svc.VerifyPassword(context.Background(), alias, "hunter2"))
	assert.Error(t, svc.VerifyPassword(context.Background(), alias, "wrong"))
	assert.ErrorIs(t, svc.VerifyPassword(context.Background(), "missing", "x"), ErrNotFound)
}
