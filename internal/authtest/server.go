// Package authtest runs an in-process auth API for tests: login, refresh,
// logout, current user, a few protected resources and a JWKS document.
// Access tokens are RS256 JWTs; refresh tokens are opaque and rotate on use.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
)

// Endpoint names accepted by Calls and Override.
const (
	EndpointLogin   = "login"
	EndpointRefresh = "refresh"
	EndpointLogout  = "logout"
	EndpointMe      = "me"
	EndpointEcho    = "echo"
	EndpointEmpty   = "empty"
	EndpointBroken  = "broken"
	EndpointDenied  = "denied"
)

const JWKSPath = "/.well-known/jwks.json"

// Default account created by New.
const (
	TestEmail    = "user@test.com"
	TestPassword = "secret123"
)

type Account struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Password            string `json:"-"`
	Name                string `json:"name"`
	Role                string `json:"role"`
	OnboardingCompleted bool   `json:"onboardingCompleted"`
}

type override struct {
	status int
	body   string
}

type Server struct {
	URL string

	srv    *httptest.Server
	keys   *KeyPair
	logger zerolog.Logger

	mu            sync.Mutex
	nowTime       func() time.Time
	accessTTL     time.Duration
	accounts      map[string]Account // by email
	refreshTokens map[string]string  // refresh token -> email
	revoked       map[string]bool    // access token IDs
	issued        []string
	calls         map[string]int
	unauthorized  int
	refreshGate   chan struct{}
	overrides     map[string]override
	requestIDs    map[string][]string // by path
}

type Option func(*Server)

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithLogger logs every request at debug level. The default is silent.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// New starts the server and closes it when the test ends. It has one
// account, TestEmail / TestPassword, with role USER.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	keys, err := GenerateKeyPair("authtest-" + uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	s := &Server{
		keys:          keys,
		logger:        zerolog.Nop(),
		nowTime:       time.Now,
		accessTTL:     15 * time.Minute,
		accounts:      make(map[string]Account),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
		calls:         make(map[string]int),
		overrides:     make(map[string]override),
		requestIDs:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.AddAccount(Account{
		ID:                  "user-1",
		Email:               TestEmail,
		Password:            TestPassword,
		Name:                "Test User",
		Role:                string(token.RoleUser),
		OnboardingCompleted: true,
	})

	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.middleware()...)
	r.HandleFunc(JWKSPath, s.handleJWKS).Methods(http.MethodGet)

	authRouter := r.PathPrefix("/api/auth").Subrouter()
	authRouter.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	authRouter.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	authRouter.HandleFunc("/logout", s.protected(EndpointLogout, s.handleLogout)).Methods(http.MethodPost)
	authRouter.HandleFunc("/me", s.protected(EndpointMe, s.handleMe)).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/users/me", s.protected(EndpointMe, s.handleMe)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/echo", s.protected(EndpointEcho, s.handleEcho))
	apiRouter.HandleFunc("/empty", s.protected(EndpointEmpty, func(w http.ResponseWriter, _ *http.Request, _ Account) {
		w.WriteHeader(http.StatusNoContent)
	}))
	apiRouter.HandleFunc("/broken", s.protected(EndpointBroken, func(w http.ResponseWriter, _ *http.Request, _ Account) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	apiRouter.HandleFunc("/denied", s.protected(EndpointDenied, func(w http.ResponseWriter, _ *http.Request, _ Account) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden", "code": "forbidden"})
	}))
	return r
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.refreshGate != nil {
		close(s.refreshGate)
		s.refreshGate = nil
	}
	s.mu.Unlock()
	s.srv.Close()
}

func (s *Server) JWKSURL() string {
	return s.URL + JWKSPath
}

func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(a.Email)] = a
}

// IssueTokens mints a valid pair for email without going through login, as
// if it had been persisted by an earlier run.
func (s *Server) IssueTokens(email string) *token.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return nil
	}
	pair, err := s.issueLocked(account)
	if err != nil {
		return nil
	}
	return pair
}

// ExpireAccessTokens makes every access token issued so far fail with 401.
// Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.issued {
		s.revoked[id] = true
	}
}

func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// HoldRefresh makes refresh requests block until the returned function is
// called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.refreshGate == gate {
				s.refreshGate = nil
				close(gate)
			}
			s.mu.Unlock()
		})
	}
}

// Override makes the next request to endpoint answer status with body,
// without any other processing.
func (s *Server) Override(endpoint string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[endpoint] = override{status: status, body: body}
}

// Calls returns how many requests endpoint has received.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Unauthorized returns how many protected requests were rejected with 401.
func (s *Server) Unauthorized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unauthorized
}

// count records a call and reports any pending override.
func (s *Server) count(endpoint string) (override, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	o, ok := s.overrides[endpoint]
	if ok {
		delete(s.overrides, endpoint)
	}
	return o, ok
}

func (s *Server) issueLocked(account Account) (*token.Pair, error) {
	now := s.nowTime()
	expiresAt := now.Add(s.accessTTL)
	id := uuid.NewString()

	access, err := s.keys.Sign(jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"roles": []string{account.Role},
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
		"jti":   id,
	})
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	s.issued = append(s.issued, id)
	s.refreshTokens[refresh] = strings.ToLower(account.Email)

	expiresAt = time.Unix(expiresAt.Unix(), 0).UTC()
	return &token.Pair{AccessToken: access, RefreshToken: refresh, ExpiresAt: &expiresAt}, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if o, ok := s.count(EndpointLogin); ok {
		writeRaw(w, o)
		return
	}

	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[strings.ToLower(creds.Email)]
	if !ok || account.Password != creds.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid email or password"})
		return
	}
	pair, err := s.issueLocked(account)
	s.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pairBody(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	o, overridden := s.count(EndpointRefresh)

	s.mu.Lock()
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if overridden {
		writeRaw(w, o)
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Missing refresh token"})
		return
	}

	s.mu.Lock()
	email, ok := s.refreshTokens[body.RefreshToken]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid refresh token"})
		return
	}
	delete(s.refreshTokens, body.RefreshToken)
	pair, err := s.issueLocked(s.accounts[email])
	s.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pairBody(pair))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request, account Account) {
	s.mu.Lock()
	for rt, email := range s.refreshTokens {
		if email == strings.ToLower(account.Email) {
			delete(s.refreshTokens, rt)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, account Account) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  account.ID,
		"email":               account.Email,
		"name":                account.Name,
		"fullName":            account.Name,
		"role":                account.Role,
		"onboardingCompleted": account.OnboardingCompleted,
	})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request, account Account) {
	var body any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method": r.Method,
		"userId": account.ID,
		"query":  r.URL.RawQuery,
		"header": r.Header.Get("X-Test"),
		"body":   body,
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, JWKS{Keys: []JWK{s.keys.ToJWK()}})
}

// protected rejects requests without a valid, unrevoked bearer token.
func (s *Server) protected(endpoint string, next func(http.ResponseWriter, *http.Request, Account)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if o, ok := s.count(endpoint); ok {
			writeRaw(w, o)
			return
		}

		account, ok := s.authenticate(r)
		if !ok {
			s.mu.Lock()
			s.unauthorized++
			s.mu.Unlock()
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
			return
		}
		next(w, r, account)
	}
}

func (s *Server) authenticate(r *http.Request) (Account, bool) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		return Account{}, false
	}

	claims, err := s.keys.Parse(raw, s.nowTime)
	if err != nil {
		return Account{}, false
	}
	id, _ := claims["jti"].(string)
	email, _ := claims["email"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[id] {
		return Account{}, false
	}
	account, ok := s.accounts[strings.ToLower(email)]
	return account, ok
}

func pairBody(p *token.Pair) map[string]any {
	return map[string]any{
		"accessToken":  p.AccessToken,
		"refreshToken": p.RefreshToken,
		"expiresAt":    p.ExpiresAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, o override) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(o.status)
	_, _ = w.Write([]byte(o.body))
}
