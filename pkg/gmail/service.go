package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/mailmsg"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user             = "me"
	fetchConcurrency = 10
	defaultPageSize  = 100
)

// TokenUpdateFunc is called when the HTTP client refreshes an access token mid-request.
type TokenUpdateFunc func(token *oauth2.Token) error

// Credentials are plaintext tokens for one request scope.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenResult is the outcome of an authorization code exchange.
type TokenResult struct {
	Token   *oauth2.Token
	Email   string
	Subject string
}

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	PageSize          int64
	MaxPages          int
	RequestsPerSecond float64

	// Endpoint and APIEndpoint override Google's URLs; tests point them at httptest servers.
	Endpoint    *oauth2.Endpoint
	APIEndpoint string
}

type Service struct {
	config      *oauth2.Config
	apiEndpoint string
	pageSize    int64
	maxPages    int
	limiter     *rate.Limiter
	cb          *gobreaker.CircuitBreaker
	now         func() time.Time
	logger      *slog.Logger
}

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
	logger   *slog.Logger
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			s.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return t, nil
}

func NewService(opts Options, logger *slog.Logger) *Service {
	endpoint := google.Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(math.Max(1, opts.RequestsPerSecond))
	}

	logger = logger.With("component", "gmail")

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors say nothing about Gmail's health.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Service{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
				"openid",
				"email",
			},
		},
		apiEndpoint: opts.APIEndpoint,
		pageSize:    pageSize,
		maxPages:    maxPages,
		limiter:     rate.NewLimiter(limit, burst),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		now:         time.Now,
		logger:      logger,
	}
}

// Configured reports whether OAuth client settings are present.
func (s *Service) Configured() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != "" && s.config.RedirectURL != ""
}

// AuthCodeURL builds the consent URL. Offline access plus forced consent make
// Google issue a refresh token on every grant.
func (s *Service) AuthCodeURL(state string) (string, error) {
	if !s.Configured() {
		return "", domain.ErrOAuthNotConfigured
	}
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for tokens. Both tokens are required.
func (s *Service) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	if !s.Configured() {
		return nil, domain.ErrOAuthNotConfigured
	}

	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyError(fmt.Errorf("exchange authorization code: %w", err))
	}
	if token.AccessToken == "" {
		return nil, domain.ErrMissingAccessToken
	}
	if token.RefreshToken == "" {
		return nil, domain.ErrMissingRefreshToken
	}

	result := &TokenResult{Token: token}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		result.Email, result.Subject = identityFromIDToken(idToken)
	}
	return result, nil
}

// identityFromIDToken reads email and sub from the id_token payload. The
// token arrived directly from Google's token endpoint over TLS, so the
// signature is not checked here.
func identityFromIDToken(idToken string) (email, subject string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", ""
	}
	email, _ = claims["email"].(string)
	subject, _ = claims["sub"].(string)
	return email, subject
}

// RefreshToken obtains a new access token. The returned token keeps the old
// refresh token unless Google rotated it.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, domain.ErrReauthRequired
	}

	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := s.config.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, classifyError(fmt.Errorf("refresh access token: %w", err))
	}
	if token.AccessToken == "" {
		return nil, domain.ErrMissingAccessToken
	}
	return token, nil
}

// GetGmailService creates a Gmail client that refreshes on expiry and reports
// new tokens through onTokenRefresh.
func (s *Service) GetGmailService(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}

	wrappedSource := &notifyTokenSource{
		src:      s.config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
		logger:   s.logger,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, wrappedSource))}
	if s.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.apiEndpoint))
	}

	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// Profile returns the mailbox address the credentials belong to.
func (s *Service) Profile(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return "", err
	}

	var profile *gmail.Profile
	err = s.executeWithCircuitBreaker("profile", func() error {
		var err error
		profile, err = srv.Users.GetProfile(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return profile.EmailAddress, nil
}

// ListSince lists messages newer than since using a relative day filter, then
// fetches each message's metadata in parallel.
func (s *Service) ListSince(ctx context.Context, creds Credentials, since time.Time, onTokenRefresh TokenUpdateFunc) ([]*domain.NormalizedMessage, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	query := NewerThanQuery(since, s.now())
	ids := make([]string, 0, s.pageSize)
	pageToken := ""

	for page := 0; page < s.maxPages; page++ {
		call := srv.Users.Messages.List(user).Q(query).MaxResults(s.pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := s.executeWithCircuitBreaker("list", func() error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if pageToken != "" {
		s.logger.Warn("message listing truncated at page limit",
			"query", query, "pages", s.maxPages, "page_size", s.pageSize)
	}

	messages := make([]*domain.NormalizedMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}

			var msg *gmail.Message
			err := s.executeWithCircuitBreaker("get", func() error {
				var err error
				msg, err = srv.Users.Messages.Get(user, id).
					Format("metadata").
					MetadataHeaders("From", "To", "Subject", "Date").
					Context(gctx).
					Do()
				return err
			})
			if err != nil {
				return fmt.Errorf("get message %s: %w", id, err)
			}
			messages[i] = convertGmailMessage(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]*domain.NormalizedMessage, 0, len(messages))
	for _, m := range messages {
		if m.ReceivedAt.Before(since) {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

// SendRaw sends a composed RFC 5322 message and returns Gmail's message.
func (s *Service) SendRaw(ctx context.Context, creds Credentials, raw []byte, onTokenRefresh TokenUpdateFunc) (*gmail.Message, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	var sent *gmail.Message
	err = s.executeWithCircuitBreaker("send", func() error {
		var err error
		sent, err = srv.Users.Messages.Send(user, msg).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to send message: %w", err)
	}
	return sent, nil
}

// Watch registers INBOX push notifications on a Pub/Sub topic.
func (s *Service) Watch(ctx context.Context, creds Credentials, topicName string, onTokenRefresh TokenUpdateFunc) (uint64, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return 0, err
	}

	// Only one push client is allowed per mailbox; clear any previous watch.
	if err := srv.Users.Stop(user).Context(ctx).Do(); err != nil {
		s.logger.Debug("stop previous watch failed", "error", err)
	}

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	err = s.executeWithCircuitBreaker("watch", func() error {
		var err error
		resp, err = srv.Users.Watch(user, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("unable to watch mailbox: %w", err)
	}

	s.logger.Info("watch started", "topic", topicName, "expiration", resp.Expiration, "history_id", resp.HistoryId)
	return resp.HistoryId, nil
}

// executeWithCircuitBreaker runs fn behind the breaker and classifies errors.
func (s *Service) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("gmail call rejected by circuit breaker", "operation", operation, "state", s.cb.State().String())
		}
		return classifyError(err)
	}
	return nil
}

// NewerThanQuery renders Gmail's relative recency filter, rounding up to whole days.
func NewerThanQuery(since, now time.Time) string {
	days := int(math.Ceil(now.Sub(since).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("newer_than:%dd", days)
}

func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return &domain.AuthError{Provider: domain.ProviderGmail, Err: err}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil || retrieveErr.Response.StatusCode < 500 {
			return &domain.AuthError{Provider: domain.ProviderGmail, Err: err}
		}
	}
	return err
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return errors.Is(err, context.Canceled)
}

func convertGmailMessage(msg *gmail.Message) *domain.NormalizedMessage {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	return &domain.NormalizedMessage{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		From:              getHeader(headers, "From"),
		To:                getHeader(headers, "To"),
		Subject:           getHeader(headers, "Subject"),
		Snippet:           mailmsg.Snippet(html.UnescapeString(msg.Snippet), ""),
		ReceivedAt:        time.UnixMilli(msg.InternalDate),
		Direction:         domain.DirectionIncoming,
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}
