// Package session is the identity side of the clinic: accounts, bearer
// sessions and the sign-in/sign-out subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinic-appointments/internal/gateway"
)

const minPasswordLength = 6

var (
	ErrInvalidSignUp      = errors.New("invalid sign up")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrRevoked            = errors.New("session has been signed out")
)

// Revoker remembers token ids that were signed out before they expired.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// NoRevocation never revokes. Tokens stay valid until they expire.
type NoRevocation struct{}

func (NoRevocation) Revoke(context.Context, string, time.Time) error   { return nil }
func (NoRevocation) IsRevoked(context.Context, string) (bool, error) { return false, nil }

type SignUpRequest struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	Role               string `json:"role"`
	FullName           string `json:"fullName"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
}

type credentialDoc struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

type userDoc struct {
	UID                string             `json:"uid"`
	Email              string             `json:"email"`
	Role               Role               `json:"role"`
	FullName           string             `json:"fullName"`
	RegistrationNumber *string            `json:"registrationNumber"`
	CreatedAt          *gateway.Timestamp `json:"createdAt,omitempty"`
}

type claims struct {
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Manager struct {
	gw      gateway.Gateway
	revoker Revoker
	broker  *Broker
	secret  []byte
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(gw gateway.Gateway, revoker Revoker, broker *Broker, secret string, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		gw:      gw,
		revoker: revoker,
		broker:  broker,
		secret:  []byte(secret),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a doctor or patient and signs them in.
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	if role, ok := ParseRole(req.Role); ok && role == RoleAdmin {
		return nil, fmt.Errorf("%w: admin accounts cannot sign up", ErrInvalidSignUp)
	}

	user, err := m.CreateUser(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.issue(user)
}

// CreateUser stores the credentials and profile of a new account of any
// role without issuing a session.
func (m *Manager) CreateUser(ctx context.Context, req SignUpRequest) (User, error) {
	email := normalizeEmail(req.Email)
	role, ok := ParseRole(req.Role)

	switch {
	case email == "" || !strings.Contains(email, "@"):
		return User{}, fmt.Errorf("%w: a valid email is required", ErrInvalidSignUp)
	case len(req.Password) < minPasswordLength:
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidSignUp, minPasswordLength)
	case !ok:
		return User{}, fmt.Errorf("%w: role must be doctor or patient", ErrInvalidSignUp)
	case role == RoleDoctor && strings.TrimSpace(req.RegistrationNumber) == "":
		return User{}, fmt.Errorf("%w: doctors must provide a registration number", ErrInvalidSignUp)
	}

	if _, err := m.gw.GetRecord(ctx, gateway.CollectionCredentials, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return User{}, fmt.Errorf("check credentials: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		UID:      uuid.NewString(),
		Role:     role,
		FullName: strings.TrimSpace(req.FullName),
		Email:    email,
	}

	cred := credentialDoc{UID: user.UID, Email: email, PasswordHash: string(hash)}
	if err := m.gw.SetRecord(ctx, gateway.CollectionCredentials, email, cred); err != nil {
		return User{}, fmt.Errorf("store credentials: %w", err)
	}

	created := gateway.TimestampFromTime(m.now())
	doc := userDoc{
		UID:       user.UID,
		Email:     email,
		Role:      role,
		FullName:  user.FullName,
		CreatedAt: &created,
	}
	if role == RoleDoctor {
		reg := strings.TrimSpace(req.RegistrationNumber)
		doc.RegistrationNumber = &reg
	}
	if err := m.gw.SetRecord(ctx, gateway.CollectionUsers, user.UID, doc); err != nil {
		return User{}, fmt.Errorf("store user profile: %w", err)
	}

	m.logger.Info("user registered", zap.String("uid", user.UID), zap.String("role", string(role)))
	return user, nil
}

// SignIn checks the password and issues a new session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	doc, err := m.gw.GetRecord(ctx, gateway.CollectionCredentials, normalizeEmail(email))
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	var cred credentialDoc
	if err := doc.Decode(&cred); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := m.loadUser(ctx, User{UID: cred.UID, Email: cred.Email})
	if err != nil {
		return nil, err
	}
	return m.issue(user)
}

func (m *Manager) issue(user User) (*Session, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	tokenID := uuid.NewString()

	c := claims{
		Role:  user.Role,
		Name:  user.FullName,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	sess := &Session{User: user, Token: signed, TokenID: tokenID, ExpiresAt: expires}
	m.broker.publish(Change{Kind: SignedIn, User: user, At: now})
	return sess, nil
}

func (m *Manager) parse(token string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.ID == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// Current resolves a bearer token to its session. The stored profile is
// merged over the token claims so role and name changes apply at once.
func (m *Manager) Current(ctx context.Context, token string) (*Session, error) {
	c, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	revoked, err := m.revoker.IsRevoked(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}

	user, err := m.loadUser(ctx, User{UID: c.Subject, Role: c.Role, FullName: c.Name, Email: c.Email})
	if err != nil {
		return nil, err
	}

	return &Session{User: user, Token: token, TokenID: c.ID, ExpiresAt: c.ExpiresAt.Time}, nil
}

// SignOut revokes the token until it would have expired.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	sess, err := m.Current(ctx, token)
	if err != nil {
		return err
	}
	if err := m.revoker.Revoke(ctx, sess.TokenID, sess.ExpiresAt); err != nil {
		return err
	}
	m.broker.publish(Change{Kind: SignedOut, User: sess.User, At: m.now()})
	return nil
}

func (m *Manager) loadUser(ctx context.Context, base User) (User, error) {
	doc, err := m.gw.GetRecord(ctx, gateway.CollectionUsers, base.UID)
	if errors.Is(err, gateway.ErrNotFound) {
		m.logger.Warn("no profile stored for user", zap.String("uid", base.UID))
		return base, nil
	}
	if err != nil {
		return User{}, fmt.Errorf("load user profile: %w", err)
	}

	var d userDoc
	if err := doc.Decode(&d); err != nil {
		return User{}, err
	}
	if d.Role != "" {
		base.Role = d.Role
	}
	if d.FullName != "" {
		base.FullName = d.FullName
	}
	if d.Email != "" {
		base.Email = d.Email
	}
	return base, nil
}
