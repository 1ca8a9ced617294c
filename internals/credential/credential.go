package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adityaadpandey/roomlink/internals/metrics"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const credentialPath = "/session-credential"

var (
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrEmptyToken            = errors.New("credential service returned an empty token")
)

// Source issues room access tokens.
type Source interface {
	Fetch(ctx context.Context, roomName string) (string, error)
	Invalidate(roomName string)
}

type Options struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration // zero disables caching
}

type tokenResponse struct {
	Token string `json:"token"`
}

type cachedToken struct {
	key    string
	token  string
	expiry time.Time
}

// Service fetches tokens from the credential endpoint, preferring POST and
// falling back to GET.
type Service struct {
	client   *resty.Client
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

func NewService(opts Options, logger *zap.Logger) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Service{
		client:   client,
		cacheTTL: opts.CacheTTL,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cachedToken),
	}
}

// Fetch returns a token for roomName. Both methods failing yields
// ErrCredentialUnavailable wrapping the last cause.
func (s *Service) Fetch(ctx context.Context, roomName string) (string, error) {
	if token, ok := s.cached(roomName); ok {
		return token, nil
	}

	token, err := s.post(ctx, roomName)
	metrics.RecordCredentialFetch(http.MethodPost, err)
	if err == nil {
		s.store(roomName, token)
		return token, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	s.logger.Warn("Credential POST failed, falling back to GET",
		zap.String("room", roomName),
		zap.Error(err),
	)

	token, err = s.get(ctx, roomName)
	metrics.RecordCredentialFetch(http.MethodGet, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Error("Credential fetch failed",
			zap.String("room", roomName),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	s.store(roomName, token)
	return token, nil
}

// Invalidate drops a cached token, typically after the transport rejected it.
func (s *Service) Invalidate(roomName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, roomName)
}

func (s *Service) post(ctx context.Context, roomName string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"roomName": roomName}).
		SetResult(&tokenResponse{}).
		ForceContentType("application/json").
		Post(credentialPath)
	return decodeToken(resp, err)
}

func (s *Service) get(ctx context.Context, roomName string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("roomName", roomName).
		SetResult(&tokenResponse{}).
		ForceContentType("application/json").
		Get(credentialPath)
	return decodeToken(resp, err)
}

func decodeToken(resp *resty.Response, err error) (string, error) {
	if err != nil {
		return "", fmt.Errorf("credential request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("credential endpoint returned %s", resp.Status())
	}

	body, ok := resp.Result().(*tokenResponse)
	if !ok || body.Token == "" {
		return "", ErrEmptyToken
	}
	return body.Token, nil
}

func (s *Service) cached(roomName string) (string, bool) {
	if s.cacheTTL <= 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[roomName]
	if !ok {
		return "", false
	}
	if !s.now().Before(entry.expiry) {
		delete(s.cache, roomName)
		return "", false
	}
	return entry.token, true
}

func (s *Service) store(roomName, token string) {
	if s.cacheTTL <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[roomName] = cachedToken{
		key:    roomName,
		token:  token,
		expiry: s.now().Add(s.cacheTTL),
	}
}
