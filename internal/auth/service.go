package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	// PermOperator reads sensor state and drives the stream.
	PermOperator Permission = "operator"
	// PermTechnician tunes exposure, gain, frame rate and mode.
	PermTechnician Permission = "technician"
	// PermAdmin reaches the raw register surface.
	PermAdmin Permission = "admin"
)

// EventRecorder persists authentication events. Optional.
type EventRecorder interface {
	LogAuthEvent(ctx context.Context, eventType, subject, ipAddress, userAgent string, success bool, reason string) error
}

type user struct {
	config.UserConfig
	failedAttempts int
	lockedUntil    time.Time
}

type refreshEntry struct {
	username  string
	expiresAt time.Time
}

// AuthService authenticates configured users and machine tokens.
type AuthService struct {
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	recorder        EventRecorder
	logger          *zap.Logger

	maxFailed   int
	lockFor     time.Duration
	machineKeys map[string]config.MachineTokenConfig

	mu      sync.Mutex
	users   map[string]*user
	refresh map[string]refreshEntry
}

func NewAuthService(cfg config.AuthConfig, recorder EventRecorder, logger *zap.Logger) *AuthService {
	a := &AuthService{
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		recorder:        recorder,
		logger:          logger,
		maxFailed:       cfg.MaxFailedLoginAttempts,
		lockFor:         cfg.AccountLockDuration,
		machineKeys:     make(map[string]config.MachineTokenConfig),
		users:           make(map[string]*user),
		refresh:         make(map[string]refreshEntry),
	}
	for _, u := range cfg.Users {
		a.users[u.Username] = &user{UserConfig: u}
	}
	for _, t := range cfg.MachineTokens {
		a.machineKeys[t.TokenHash] = t
	}

	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

// LoginUser authenticates a user and returns an access and a refresh token.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (accessToken, refreshToken string, err error) {
	a.mu.Lock()
	u, ok := a.users[username]
	if ok && time.Now().Before(u.lockedUntil) {
		until := u.lockedUntil
		a.mu.Unlock()
		return "", "", fmt.Errorf("account locked until %s", until.Format(time.RFC3339))
	}
	a.mu.Unlock()

	if !ok {
		a.logAuthEvent(ctx, "user_login_failed", username, ipAddress, userAgent, false, "user not found")
		return "", "", fmt.Errorf("invalid credentials")
	}

	valid, err := a.passwordHasher.VerifyPassword(password, u.PasswordHash)
	if err != nil || !valid {
		a.registerFailure(u)
		a.logAuthEvent(ctx, "user_login_failed", username, ipAddress, userAgent, false, "invalid password")
		return "", "", fmt.Errorf("invalid credentials")
	}

	a.mu.Lock()
	u.failedAttempts = 0
	a.mu.Unlock()

	accessToken, err = a.jwtHandler.GenerateAccessToken(u.Username, u.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err = a.issueRefresh(u.Username)
	if err != nil {
		return "", "", err
	}

	a.logAuthEvent(ctx, "user_login_success", username, ipAddress, userAgent, true, "")
	return accessToken, refreshToken, nil
}

func (a *AuthService) registerFailure(u *user) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u.failedAttempts++
	if a.maxFailed > 0 && u.failedAttempts >= a.maxFailed {
		u.lockedUntil = time.Now().Add(a.lockFor)
		u.failedAttempts = 0
		a.logger.Warn("Account locked", zap.String("username", u.Username), zap.Time("until", u.lockedUntil))
	}
}

func (a *AuthService) issueRefresh(username string) (string, error) {
	token, err := a.jwtHandler.GenerateRefreshToken()
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.refresh[hashToken(token)] = refreshEntry{
		username:  username,
		expiresAt: time.Now().Add(a.jwtHandler.refreshTokenTTL),
	}
	a.mu.Unlock()
	return token, nil
}

// RefreshAccessToken rotates a refresh token.
func (a *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (string, string, error) {
	key := hashToken(refreshToken)

	a.mu.Lock()
	entry, ok := a.refresh[key]
	delete(a.refresh, key)
	u, exists := a.users[entry.username]
	a.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", "", fmt.Errorf("invalid refresh token")
	}
	if !exists {
		return "", "", fmt.Errorf("user not found: %s", entry.username)
	}

	accessToken, err := a.jwtHandler.GenerateAccessToken(u.Username, u.Role)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	newRefresh, err := a.issueRefresh(u.Username)
	if err != nil {
		return "", "", err
	}
	return accessToken, newRefresh, nil
}

func (a *AuthService) RevokeRefreshToken(ctx context.Context, refreshToken string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.refresh, hashToken(refreshToken))
}

// ValidateMachineToken looks the token hash up among the configured tokens.
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress, userAgent string) (*Principal, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("invalid token format")
	}

	hash := a.machineTokenGen.HashToken(token)
	for known, mt := range a.machineKeys {
		if subtle.ConstantTimeCompare([]byte(known), []byte(hash)) == 1 {
			a.logAuthEvent(ctx, "machine_token_success", mt.Name, ipAddress, userAgent, true, "")
			perms := make([]Permission, len(mt.Permissions))
			for i, p := range mt.Permissions {
				perms[i] = Permission(p)
			}
			return &Principal{Name: mt.Name, Machine: true, Permissions: perms}, nil
		}
	}

	a.logAuthEvent(ctx, "machine_token_failed", "", ipAddress, userAgent, false, "token not found")
	return nil, fmt.Errorf("invalid token")
}

// ValidateToken accepts a JWT access token or a machine token.
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress, userAgent string) (*Principal, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return &Principal{
			Name:        claims.Subject,
			Role:        claims.Role,
			Permissions: RoleToPermissions(claims.Role),
		}, nil
	}

	return a.ValidateMachineToken(ctx, token, ipAddress, userAgent)
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType, subject, ip, userAgent string, success bool, reason string) {
	a.logger.Info("Auth event",
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("ip", ip),
		zap.Bool("success", success),
		zap.String("reason", reason))

	if a.recorder == nil {
		return
	}
	if err := a.recorder.LogAuthEvent(ctx, eventType, subject, ip, userAgent, success, reason); err != nil {
		a.logger.Error("Failed to record auth event", zap.Error(err))
	}
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
