package auth

import (
	"context"
	"errors"
	"time"

	"github.com/agazso/runtracker/internal/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshInvalid     = errors.New("refresh token invalid")
)

var (
	signTokenFn       = (*Service).signToken
	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims
)

type Service struct {
	secret []byte
	db     db.Querier
}

// Claims identify the runner and the device the runner is paired with.
type Claims struct {
	RunnerID string `json:"runner_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

func NewService(secret string, db db.Querier) *Service {
	return &Service{
		secret: []byte(secret),
		db:     db,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (Runner, TokenResponse, error) {
	if req.Email == "" || req.Name == "" || req.Password == "" || req.DeviceID == "" {
		return Runner{}, TokenResponse{}, errors.New("email, name, password, device_id required")
	}
	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Runner{}, TokenResponse{}, err
	}

	runner := Runner{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		DeviceID:     req.DeviceID,
		PasswordHash: string(hash),
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO runners (id, email, name, device_id, password_hash)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, runner.ID, runner.Email, runner.Name, runner.DeviceID, runner.PasswordHash)
	if err := row.Scan(&runner.CreatedAt); err != nil {
		return Runner{}, TokenResponse{}, err
	}

	tokens, err := s.GenerateTokens(ctx, runner.ID, runner.DeviceID)
	if err != nil {
		return Runner{}, TokenResponse{}, err
	}
	return runner, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (Runner, TokenResponse, error) {
	runner, err := s.Authenticate(ctx, req)
	if err != nil {
		return Runner{}, TokenResponse{}, err
	}

	tokens, err := s.GenerateTokens(ctx, runner.ID, runner.DeviceID)
	if err != nil {
		return Runner{}, TokenResponse{}, err
	}
	return runner, tokens, nil
}

// Authenticate checks the credentials without issuing tokens.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (Runner, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, name, device_id, password_hash, created_at
		FROM runners WHERE email = $1
	`, req.Email)

	var runner Runner
	if err := row.Scan(&runner.ID, &runner.Email, &runner.Name, &runner.DeviceID, &runner.PasswordHash, &runner.CreatedAt); err != nil {
		return Runner{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(runner.PasswordHash), []byte(req.Password)); err != nil {
		return Runner{}, ErrInvalidCredentials
	}
	return runner, nil
}

func (s *Service) GenerateTokens(ctx context.Context, runnerID, deviceID string) (TokenResponse, error) {
	access, err := signTokenFn(s, runnerID, deviceID, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := signTokenFn(s, runnerID, deviceID, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, runnerID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

// ValidateRefreshToken checks the signature and the stored, unrevoked record.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	runnerID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || runnerID != claims.RunnerID || time.Now().After(expiresAt) {
		return nil, ErrRefreshInvalid
	}
	return claims, nil
}

func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return s.parseToken(token)
}

func (s *Service) signToken(runnerID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RunnerID: runnerID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, runnerID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO runner_refresh_tokens (id, runner_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), runnerID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT runner_id, expires_at
		FROM runner_refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var runnerID string
	var expiresAt time.Time
	if err := row.Scan(&runnerID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return runnerID, expiresAt, nil
}
