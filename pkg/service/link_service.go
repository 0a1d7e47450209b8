package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/clicks"
	"shortlink/pkg/config"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultCacheTTL = 24 * time.Hour
	negativeTTL     = 5 * time.Minute

	defaultPageSize = 20
	maxPageSize     = 100
)

type LinkService struct {
	storage  storage.LinkStorage
	cache    cache.LinkCacheInterface
	recorder *clicks.Recorder
	logger   *logging.Logger

	baseURL        string
	codeLength     int
	maxAttempts    int
	resolveTimeout time.Duration
}

func NewLinkService(store storage.LinkStorage, linkCache cache.LinkCacheInterface, recorder *clicks.Recorder, logger *logging.Logger, cfg *config.Config) *LinkService {
	return &LinkService{
		storage:        store,
		cache:          linkCache,
		recorder:       recorder,
		logger:         logger,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		codeLength:     cfg.CodeLength,
		maxAttempts:    cfg.MaxAttempts,
		resolveTimeout: cfg.ResolveTimeout,
	}
}

type CreateLinkRequest struct {
	TargetURL   string     `json:"target_url"`
	CustomAlias *string    `json:"custom_alias,omitempty"`
	Password    *string    `json:"password,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// CreateLink validates the request, mints a short code and persists the link.
// Uniqueness is arbitrated by the storage layer's unique index: creation is
// insert-then-retry, never check-then-insert.
func (s *LinkService) CreateLink(ctx context.Context, ownerID uuid.UUID, req *CreateLinkRequest) (*storage.ShortLink, error) {
	if ownerID == uuid.Nil {
		return nil, errors.New("owner id required")
	}
	if err := validateTargetURL(req.TargetURL); err != nil {
		return nil, err
	}

	var passwordHash *string
	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashStr := string(hash)
		passwordHash = &hashStr
	}

	now := time.Now().UTC()
	link := &storage.ShortLink{
		ID:           uuid.New(),
		TargetURL:    req.TargetURL,
		OwnerID:      ownerID,
		Title:        req.Title,
		Description:  req.Description,
		Tags:         req.Tags,
		PasswordHash: passwordHash,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var err error
	if req.CustomAlias != nil {
		err = s.insertWithAlias(ctx, link, *req.CustomAlias, now)
	} else {
		err = s.insertWithRandomCode(ctx, link)
	}
	if err != nil {
		s.logger.LogLinkOperation(ctx, "create", link.ShortCode, false)
		return nil, err
	}

	// A previous miss for this code may still be cached.
	_ = s.cache.Delete(ctx, link.ShortCode)

	s.logger.LogLinkOperation(ctx, "create", link.ShortCode, true)
	return link, nil
}

func (s *LinkService) insertWithAlias(ctx context.Context, link *storage.ShortLink, alias string, now time.Time) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}
	link.ShortCode = alias

	err := s.storage.Insert(ctx, link)
	if errors.Is(err, storage.ErrDuplicateCode) {
		// The holder may have expired without being reaped yet; release it
		// and try once more. Reuse of released codes is permitted.
		released, relErr := s.storage.ReleaseIfExpired(ctx, alias, now)
		if relErr != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, relErr)
		}
		if !released {
			return fmt.Errorf("%w: %q", ErrAliasConflict, alias)
		}
		err = s.storage.Insert(ctx, link)
		if errors.Is(err, storage.ErrDuplicateCode) {
			return fmt.Errorf("%w: %q", ErrAliasConflict, alias)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *LinkService) insertWithRandomCode(ctx context.Context, link *storage.ShortLink) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		code, err := RandomCode(s.codeLength)
		if err != nil {
			return err
		}
		link.ShortCode = code

		err = s.storage.Insert(ctx, link)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrDuplicateCode) {
			continue
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: after %d attempts", ErrGenerationExhausted, s.maxAttempts)
}

// Resolution is what a redirect needs: where to send the client, and whose
// link was hit so the click can be attributed.
type Resolution struct {
	LinkID      uuid.UUID
	OwnerID     uuid.UUID
	TargetURL   string
	HasPassword bool
}

// ClickMeta is request context captured for the click event.
type ClickMeta struct {
	Referrer  string
	UserAgent string
	IP        string
}

// Resolve translates a short code into a redirect target. Missing, deleted
// and expired links all come back as ErrNotFound. The lookup runs under a
// short timeout; the user is waiting.
func (s *LinkService) Resolve(ctx context.Context, code string) (*Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	now := time.Now().UTC()

	if cached, err := s.cache.Get(ctx, code); err == nil && cached != nil {
		if cached.Miss() || (cached.ExpiresAt != nil && now.After(*cached.ExpiresAt)) {
			return nil, ErrNotFound
		}
		return &Resolution{
			LinkID:      cached.LinkID,
			OwnerID:     cached.OwnerID,
			TargetURL:   cached.TargetURL,
			HasPassword: cached.HasPassword,
		}, nil
	}

	link, err := s.storage.GetActiveByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if link == nil {
		_ = s.cache.Set(ctx, code, &cache.CachedLink{}, negativeTTL)
		return nil, ErrNotFound
	}
	if link.Expired(now) {
		return nil, ErrNotFound
	}

	ttl := defaultCacheTTL
	if link.ExpiresAt != nil {
		if remaining := link.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	_ = s.cache.Set(ctx, code, &cache.CachedLink{
		LinkID:      link.ID,
		OwnerID:     link.OwnerID,
		TargetURL:   link.TargetURL,
		HasPassword: link.PasswordHash != nil,
		ExpiresAt:   link.ExpiresAt,
	}, ttl)

	return &Resolution{
		LinkID:      link.ID,
		OwnerID:     link.OwnerID,
		TargetURL:   link.TargetURL,
		HasPassword: link.PasswordHash != nil,
	}, nil
}

// RecordClick hands the click to the background recorder and returns
// immediately. Failures surface only in logs.
func (s *LinkService) RecordClick(res *Resolution, meta ClickMeta) {
	s.recorder.Enqueue(&storage.ClickEvent{
		ID:         uuid.New(),
		LinkID:     res.LinkID,
		OwnerID:    res.OwnerID,
		OccurredAt: time.Now().UTC(),
		Referrer:   meta.Referrer,
		UserAgent:  meta.UserAgent,
		IP:         meta.IP,
		DeviceType: clicks.DeviceType(meta.UserAgent),
	})
}

// VerifyPassword checks the password on a protected link.
func (s *LinkService) VerifyPassword(ctx context.Context, code, password string) error {
	link, err := s.storage.GetActiveByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if link == nil || link.Expired(time.Now().UTC()) {
		return ErrNotFound
	}
	if link.PasswordHash == nil {
		return errors.New("no password set")
	}
	return bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password))
}

// GetLink returns the owner's link by id, including soft-deleted and expired
// rows so stats stay readable after the code stops resolving.
func (s *LinkService) GetLink(ctx context.Context, ownerID, id uuid.UUID) (*storage.ShortLink, error) {
	link, err := s.storage.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if link == nil || link.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return link, nil
}

// ListLinks returns a page of the owner's active links, newest first.
func (s *LinkService) ListLinks(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*storage.ShortLink, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	links, err := s.storage.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return links, nil
}

type UpdateLinkRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Password    *string    `json:"password,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpdateLink changes a link's metadata, password or expiry. The target URL
// and short code are immutable; replacing the destination means creating a
// new link.
func (s *LinkService) UpdateLink(ctx context.Context, ownerID, id uuid.UUID, req *UpdateLinkRequest) (*storage.ShortLink, error) {
	link, err := s.storage.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if link == nil || link.OwnerID != ownerID || !link.IsActive {
		return nil, ErrNotFound
	}

	if req.Title != nil {
		link.Title = *req.Title
	}
	if req.Description != nil {
		link.Description = *req.Description
	}
	if req.Tags != nil {
		link.Tags = req.Tags
	}
	if req.Password != nil {
		if *req.Password == "" {
			link.PasswordHash = nil
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			hashStr := string(hash)
			link.PasswordHash = &hashStr
		}
	}
	if req.ExpiresAt != nil {
		link.ExpiresAt = req.ExpiresAt
	}

	if err := s.storage.Update(ctx, link); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	_ = s.cache.Delete(ctx, link.ShortCode)

	s.logger.LogLinkOperation(ctx, "update", link.ShortCode, true)
	return link, nil
}

// DeleteLink soft-deletes the owner's link. The code stops resolving and
// becomes reusable.
func (s *LinkService) DeleteLink(ctx context.Context, ownerID, id uuid.UUID) error {
	link, err := s.storage.Deactivate(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if link == nil {
		return ErrNotFound
	}
	_ = s.cache.Delete(ctx, link.ShortCode)

	s.logger.LogLinkOperation(ctx, "delete", link.ShortCode, true)
	return nil
}

// Ping reports storage connectivity.
func (s *LinkService) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// ShortURL renders the public URL for a code.
func (s *LinkService) ShortURL(code string) string {
	return s.baseURL + "/r/" + code
}

func validateTargetURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
			ip.IsMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: address not allowed", ErrInvalidURL)
		}
	} else if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: localhost not allowed", ErrInvalidURL)
	}
	return nil
}
