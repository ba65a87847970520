package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
	lists   int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", store.updates)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := legacyAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Till01",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "till01" || cashier.Role != domain.RoleCashier {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	found, ok := store.users["till01"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "till01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "till01" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "till01", Password: "pass1234"}); err == nil {
		t.Fatalf("expected duplicate cashier to fail")
	}
	if got := manager.ListCashiers(context.Background()); len(got) != 1 || got[0].Username != "till01" {
		t.Fatalf("unexpected cashier list %+v", got)
	}
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	store := legacyAdminStore()
	store.users["sleepy"] = domain.UserAccount{Username: "sleepy", Password: "sleepy123", Role: domain.RoleCashier, Active: false}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "admin123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "sleepy", Password: "sleepy123"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", legacyAdminStore(), nil)
	other := NewAuthManager("other-secret", time.Hour, "123456", legacyAdminStore(), nil)

	foreign, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to be rejected, got %v", err)
	}

	expired, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	unknownRole, err := manager.sign("admin", "auditor", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(unknownRole); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown role to be rejected, got %v", err)
	}
}

func TestUserRefreshIsThrottled(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	before := store.lists

	for i := 0; i < 3; i++ {
		_, _ = manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	}
	if store.lists != before {
		t.Fatalf("expected cached users within refresh interval, got %d extra loads", store.lists-before)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store, nil)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
