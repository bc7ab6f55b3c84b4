package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowd/signing"
	"escrowd/wallet"
)

func newTestService() (*Service, *fakeRepository, *fakeWallets) {
	repo := newFakeRepository()
	wallets := &fakeWallets{seeded: map[string]float64{}}
	return NewService(&fakePool{}, repo, wallets, "test-secret"), repo, wallets
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _, wallets := newTestService()

	req := RegisterRequest{
		Username: "alice",
		Password: "supersafe",
		Role:     RoleBuyer,
	}

	ctx := context.Background()
	res, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if res.User.Username != req.Username {
		t.Fatalf("expected username %q got %q", req.Username, res.User.Username)
	}
	if res.User.Role != RoleBuyer {
		t.Fatalf("register: expected role %s got %s", RoleBuyer, res.User.Role)
	}
	if res.User.PublicKey == "" || res.PrivateKey == "" {
		t.Fatalf("register: expected server-issued keypair")
	}
	if err := verifyKeypair(res.User.PublicKey, res.PrivateKey); err != nil {
		t.Fatalf("register: issued keypair does not verify: %v", err)
	}
	if got := wallets.seeded[res.User.ID]; got != wallet.InitialBuyerBalance {
		t.Fatalf("register: expected buyer wallet seed %.0f, got %.0f", wallet.InitialBuyerBalance, got)
	}

	resp, err := svc.Login(ctx, LoginRequest{Username: req.Username, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != res.User.ID {
		t.Fatalf("login: expected user id %q got %q", res.User.ID, resp.User.ID)
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != res.User.ID {
		t.Fatalf("verify token: expected %q got %q", res.User.ID, tokenUserID)
	}
	if tokenRole != RoleBuyer {
		t.Fatalf("verify token: expected role %s got %s", RoleBuyer, tokenRole)
	}
}

func verifyKeypair(publicHex, privateHex string) error {
	sig, err := signing.Sign(privateHex, "probe")
	if err != nil {
		return err
	}
	return signing.Verify(publicHex, "probe", sig)
}

func TestService_RegisterSellerSeedsSellerBalance(t *testing.T) {
	svc, _, wallets := newTestService()

	res, err := svc.Register(context.Background(), RegisterRequest{
		Username: "bob",
		Password: "strongpassword",
		Role:     RoleSeller,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := wallets.seeded[res.User.ID]; got != wallet.InitialSellerBalance {
		t.Fatalf("expected seller wallet seed %.0f, got %.0f", wallet.InitialSellerBalance, got)
	}
}

func TestService_RegisterWithSuppliedKeyDoesNotIssueOne(t *testing.T) {
	svc, _, _ := newTestService()

	keys, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	res, err := svc.Register(context.Background(), RegisterRequest{
		Username:  "carol",
		Password:  "strongpassword",
		Role:      RoleBuyer,
		PublicKey: keys.PublicKeyHex,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.User.PublicKey != keys.PublicKeyHex {
		t.Errorf("expected supplied key to be stored")
	}
	if res.PrivateKey != "" {
		t.Errorf("expected no server-issued private key")
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "short",
		Role:     RoleBuyer,
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "",
		Password: "strongpassword",
		Role:     RoleBuyer,
	}); err == nil {
		t.Fatal("expected validation error for missing username")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "strongpassword",
		Role:     "ADMIN",
	}); err == nil {
		t.Fatal("expected validation error for invalid role")
	}
}

func TestService_DuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService()

	req := RegisterRequest{
		Username: "alice",
		Password: "strongpassword",
		Role:     RoleBuyer,
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Login(context.Background(), LoginRequest{
		Username: "unknown",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeRepository struct {
	usersByUsername map[string]User
	usersByID       map[string]User
	nextID          int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByUsername: make(map[string]User),
		usersByID:       make(map[string]User),
		nextID:          1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, tx pgx.Tx, params CreateUserParams) (User, error) {
	if _, exists := f.usersByUsername[strings.ToLower(params.Username)]; exists {
		return User{}, ErrDuplicateUsername
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:           id,
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		PublicKey:    params.PublicKey,
		CreatedAt:    time.Now().UTC(),
	}

	f.usersByUsername[strings.ToLower(user.Username)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	user, ok := f.usersByUsername[strings.ToLower(username)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

type fakeWallets struct {
	seeded map[string]float64
}

func (f *fakeWallets) Create(ctx context.Context, tx pgx.Tx, userID string, initialBalance float64) error {
	f.seeded[userID] = initialBalance
	return nil
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
