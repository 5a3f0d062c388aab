package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	"github.com/salutethegenius/kemiscrm-sub000/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

type fakeGoogle struct {
	*httptest.Server

	refreshes   atomic.Int32
	omitRefresh bool
	rejectGrant bool

	messages  map[string]time.Time
	lastQuery atomic.Value

	stops     atomic.Int32
	lastTopic atomic.Value
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	fg := &fakeGoogle{messages: map[string]time.Time{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", fg.handleToken)
	mux.HandleFunc("/gmail/v1/users/me/messages", fg.handleList)
	mux.HandleFunc("/gmail/v1/users/me/messages/", fg.handleGet)
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"emailAddress": "owner@gmail.com"})
	})
	mux.HandleFunc("/gmail/v1/users/me/stop", func(w http.ResponseWriter, r *http.Request) {
		fg.stops.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{"code": 403, "message": "no watch to stop"},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/watch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TopicName string `json:"topicName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		fg.lastTopic.Store(req.TopicName)
		writeJSON(w, http.StatusOK, map[string]any{"historyId": "42", "expiration": "1700000000000"})
	})

	fg.Server = httptest.NewServer(mux)
	t.Cleanup(fg.Close)
	return fg
}

func (fg *fakeGoogle) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		idToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"email": "owner@gmail.com",
			"sub":   "google-sub-1",
		}).SignedString([]byte("test"))

		body := map[string]any{
			"access_token": "access-initial",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		}
		if !fg.omitRefresh {
			body["refresh_token"] = "refresh-initial"
		}
		writeJSON(w, http.StatusOK, body)
	case "refresh_token":
		if fg.rejectGrant {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		n := fg.refreshes.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": fmt.Sprintf("access-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (fg *fakeGoogle) handleList(w http.ResponseWriter, r *http.Request) {
	fg.lastQuery.Store(r.URL.Query().Get("q"))

	list := make([]map[string]string, 0, len(fg.messages))
	for id := range fg.messages {
		list = append(list, map[string]string{"id": id, "threadId": "thread-" + id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": list, "resultSizeEstimate": len(list)})
}

func (fg *fakeGoogle) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "Bearer revoked" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"code": 401, "message": "Invalid Credentials"},
		})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
	received, ok := fg.messages[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": 404, "message": "Not Found"},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           id,
		"threadId":     "thread-" + id,
		"snippet":      "Hi there, it&#39;s " + id,
		"internalDate": fmt.Sprintf("%d", received.UnixMilli()),
		"payload": map[string]any{
			"headers": []map[string]string{
				{"name": "From", "value": "Ann <ann@example.org>"},
				{"name": "To", "value": "owner@gmail.com"},
				{"name": "Subject", "value": "subject " + id},
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestService(fg *fakeGoogle) *Service {
	return NewService(Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   fg.URL + "/auth",
			TokenURL:  fg.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		APIEndpoint: fg.URL + "/",
	}, logger.Discard())
}

func TestAuthCodeURL(t *testing.T) {
	fg := newFakeGoogle(t)
	svc := newTestService(fg)

	raw, err := svc.AuthCodeURL("user-123")
	if err != nil {
		t.Fatalf("AuthCodeURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	q := u.Query()
	if q.Get("state") != "user-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q", q.Get("prompt"))
	}
	if !strings.Contains(q.Get("scope"), "gmail.readonly") || !strings.Contains(q.Get("scope"), "gmail.send") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestAuthCodeURL_NotConfigured(t *testing.T) {
	svc := NewService(Options{}, logger.Discard())
	if _, err := svc.AuthCodeURL("x"); !errors.Is(err, domain.ErrOAuthNotConfigured) {
		t.Fatalf("AuthCodeURL() error = %v, want ErrOAuthNotConfigured", err)
	}
}

func TestExchange(t *testing.T) {
	fg := newFakeGoogle(t)
	svc := newTestService(fg)

	res, err := svc.Exchange(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if res.Token.AccessToken != "access-initial" || res.Token.RefreshToken != "refresh-initial" {
		t.Errorf("token = %+v", res.Token)
	}
	if res.Email != "owner@gmail.com" {
		t.Errorf("Email = %q", res.Email)
	}
	if res.Subject != "google-sub-1" {
		t.Errorf("Subject = %q", res.Subject)
	}
}

func TestExchange_MissingRefreshToken(t *testing.T) {
	fg := newFakeGoogle(t)
	fg.omitRefresh = true
	svc := newTestService(fg)

	if _, err := svc.Exchange(context.Background(), "code-1"); !errors.Is(err, domain.ErrMissingRefreshToken) {
		t.Fatalf("Exchange() error = %v, want ErrMissingRefreshToken", err)
	}
}

func TestRefreshToken_IssuesNewTokenEachTime(t *testing.T) {
	fg := newFakeGoogle(t)
	svc := newTestService(fg)

	first, err := svc.RefreshToken(context.Background(), "refresh-initial")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	second, err := svc.RefreshToken(context.Background(), "refresh-initial")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if first.AccessToken == second.AccessToken {
		t.Errorf("both refreshes returned %q", first.AccessToken)
	}
	if second.RefreshToken != "refresh-initial" {
		t.Errorf("refresh token = %q, want it kept", second.RefreshToken)
	}
	if fg.refreshes.Load() != 2 {
		t.Errorf("token endpoint hit %d times, want 2", fg.refreshes.Load())
	}
}

func TestRefreshToken_RevokedGrant(t *testing.T) {
	fg := newFakeGoogle(t)
	fg.rejectGrant = true
	svc := newTestService(fg)

	_, err := svc.RefreshToken(context.Background(), "refresh-initial")
	if !domain.IsAuthError(err) {
		t.Fatalf("RefreshToken() error = %v, want auth error", err)
	}
}

func TestRefreshToken_Empty(t *testing.T) {
	svc := NewService(Options{ClientID: "a", ClientSecret: "b", RedirectURL: "c"}, logger.Discard())
	if _, err := svc.RefreshToken(context.Background(), ""); !domain.IsAuthError(err) {
		t.Fatalf("RefreshToken(\"\") error = %v, want reauth", err)
	}
}

func TestListSince(t *testing.T) {
	fg := newFakeGoogle(t)
	now := time.Now()
	fg.messages["recent"] = now.Add(-2 * time.Hour)
	fg.messages["stale"] = now.AddDate(0, 0, -3)
	svc := newTestService(fg)
	svc.now = func() time.Time { return now }

	creds := Credentials{AccessToken: "valid", RefreshToken: "refresh-initial", Expiry: now.Add(time.Hour)}
	msgs, err := svc.ListSince(context.Background(), creds, now.Add(-24*time.Hour), nil)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}

	if q, _ := fg.lastQuery.Load().(string); q != "newer_than:1d" {
		t.Errorf("query = %q, want newer_than:1d", q)
	}
	if len(msgs) != 1 {
		t.Fatalf("ListSince() returned %d messages, want 1", len(msgs))
	}

	got := msgs[0]
	if got.ProviderMessageID != "recent" || got.ThreadID != "thread-recent" {
		t.Errorf("ids = %q/%q", got.ProviderMessageID, got.ThreadID)
	}
	if got.From != "Ann <ann@example.org>" || got.Subject != "subject recent" {
		t.Errorf("headers = %q / %q", got.From, got.Subject)
	}
	if got.Snippet != "Hi there, it's recent" {
		t.Errorf("Snippet = %q", got.Snippet)
	}
	if got.ReceivedAt.UnixMilli() != fg.messages["recent"].UnixMilli() {
		t.Errorf("ReceivedAt = %v", got.ReceivedAt)
	}
}

func TestListSince_QueryUsesServiceClock(t *testing.T) {
	fg := newFakeGoogle(t)
	svc := newTestService(fg)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	creds := Credentials{AccessToken: "valid", RefreshToken: "refresh-initial", Expiry: time.Now().Add(time.Hour)}
	tests := []struct {
		since time.Time
		want  string
	}{
		{now.Add(-48 * time.Hour), "newer_than:2d"},
		{now.Add(-48*time.Hour - time.Second), "newer_than:3d"},
		{now.Add(-time.Minute), "newer_than:1d"},
	}
	for _, tt := range tests {
		if _, err := svc.ListSince(context.Background(), creds, tt.since, nil); err != nil {
			t.Fatalf("ListSince(%v) error = %v", tt.since, err)
		}
		if q, _ := fg.lastQuery.Load().(string); q != tt.want {
			t.Errorf("ListSince(%v) query = %q, want %q", tt.since, q, tt.want)
		}
	}
}

func TestWatch_StopFailureIsLogged(t *testing.T) {
	fg := newFakeGoogle(t)
	var logs bytes.Buffer
	svc := NewService(Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     &oauth2.Endpoint{TokenURL: fg.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		APIEndpoint:  fg.URL + "/",
	}, logger.NewWithWriter(&logs, "debug", "json"))

	creds := Credentials{AccessToken: "valid", RefreshToken: "refresh-initial", Expiry: time.Now().Add(time.Hour)}
	historyID, err := svc.Watch(context.Background(), creds, "projects/crm/topics/gmail-push", nil)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if historyID != 42 {
		t.Errorf("history id = %d, want 42", historyID)
	}
	if got := fg.stops.Load(); got != 1 {
		t.Errorf("stop called %d times, want 1", got)
	}
	if topic, _ := fg.lastTopic.Load().(string); topic != "projects/crm/topics/gmail-push" {
		t.Errorf("topic = %q", topic)
	}
	if !strings.Contains(logs.String(), "stop previous watch failed") {
		t.Errorf("stop failure not logged: %s", logs.String())
	}
}

func TestListSince_RefreshesExpiredToken(t *testing.T) {
	fg := newFakeGoogle(t)
	fg.messages["m1"] = time.Now()
	svc := newTestService(fg)

	var persisted []string
	creds := Credentials{AccessToken: "old", RefreshToken: "refresh-initial", Expiry: time.Now().Add(-time.Minute)}
	_, err := svc.ListSince(context.Background(), creds, time.Now().Add(-time.Hour), func(tok *oauth2.Token) error {
		persisted = append(persisted, tok.AccessToken)
		return nil
	})
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(persisted) != 1 || persisted[0] != "access-1" {
		t.Errorf("persisted tokens = %v, want [access-1]", persisted)
	}
}

func TestListSince_Unauthorized(t *testing.T) {
	fg := newFakeGoogle(t)
	fg.messages["m1"] = time.Now()
	svc := newTestService(fg)

	creds := Credentials{AccessToken: "revoked", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	_, err := svc.ListSince(context.Background(), creds, time.Now().Add(-time.Hour), nil)
	if !domain.IsAuthError(err) {
		t.Fatalf("ListSince() error = %v, want auth error", err)
	}
}

func TestProfile(t *testing.T) {
	fg := newFakeGoogle(t)
	svc := newTestService(fg)

	email, err := svc.Profile(context.Background(), Credentials{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}, nil)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if email != "owner@gmail.com" {
		t.Errorf("Profile() = %q", email)
	}
}

func TestNewerThanQuery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		since time.Time
		want  string
	}{
		{now.Add(-time.Minute), "newer_than:1d"},
		{now.Add(time.Hour), "newer_than:1d"},
		{now.AddDate(0, 0, -30), "newer_than:30d"},
		{now.AddDate(0, 0, -2).Add(-time.Hour), "newer_than:3d"},
	}
	for _, tt := range tests {
		if got := NewerThanQuery(tt.since, now); got != tt.want {
			t.Errorf("NewerThanQuery(%v) = %q, want %q", tt.since, got, tt.want)
		}
	}
}
