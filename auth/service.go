package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"escrowd/signing"
	"escrowd/wallet"
)

var (
	// ErrInvalidCredentials signals wrong username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WalletSeeder creates the user's wallet inside the registration transaction.
type WalletSeeder interface {
	Create(ctx context.Context, tx pgx.Tx, userID string, initialBalance float64) error
}

// Service handles authentication business logic.
type Service struct {
	pool      TxBeginner
	repo      Repository
	wallets   WalletSeeder
	jwtSecret []byte
}

// RegisterResult bundles the new account and, when the server issued the
// keypair, the private half. It is returned exactly once and never stored.
type RegisterResult struct {
	User       User
	PrivateKey string
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(pool TxBeginner, repo Repository, wallets WalletSeeder, jwtSecret string) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		wallets:   wallets,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new user account with a signing key and a seeded wallet.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if len(req.Password) < 8 {
		return RegisterResult{}, ErrWeakPassword
	}
	if strings.TrimSpace(req.Username) == "" {
		return RegisterResult{}, fmt.Errorf("auth: username is required")
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if !isValidRole(role) {
		return RegisterResult{}, fmt.Errorf("auth: invalid role %q", role)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("auth: hash password: %w", err)
	}

	publicKey := strings.TrimSpace(req.PublicKey)
	var privateKey string
	if publicKey == "" {
		keys, err := signing.GenerateKeypair()
		if err != nil {
			return RegisterResult{}, fmt.Errorf("auth: issue keypair: %w", err)
		}
		publicKey = keys.PublicKeyHex
		privateKey = keys.PrivateKeyHex
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := s.repo.CreateUser(ctx, tx, CreateUserParams{
		Username:     req.Username,
		PasswordHash: string(passwordHash),
		Role:         role,
		PublicKey:    publicKey,
	})
	if err != nil {
		return RegisterResult{}, err
	}

	if err := s.wallets.Create(ctx, tx, user.ID, initialBalance(role)); err != nil {
		return RegisterResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RegisterResult{}, fmt.Errorf("auth: commit tx: %w", err)
	}

	return RegisterResult{User: user, PrivateKey: privateKey}, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PublicKey resolves the user's registered signing key.
func (s *Service) PublicKey(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.PublicKey, nil
}

// Username resolves the user's display name.
func (s *Service) Username(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// VerifyToken validates a JWT token and returns the user ID.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid user_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return userID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(userID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(), // Token expires in 24 hours
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func initialBalance(role Role) float64 {
	if role == RoleSeller {
		return wallet.InitialSellerBalance
	}
	return wallet.InitialBuyerBalance
}

func isValidRole(role Role) bool {
	switch role {
	case RoleBuyer, RoleSeller:
		return true
	default:
		return false
	}
}
