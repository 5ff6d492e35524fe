// Package auth authenticates the dashboard administrator and records each
// session in the admin_access table.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"dpdpshield/internal/domain"
	"dpdpshield/internal/tabstore"
)

// TokenTTL is the admin session lifetime.
const TokenTTL = 12 * time.Hour

const issuer = "dpdpshield"

// ErrInvalidCredentials is returned on a wrong email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Session is one row of the admin_access table.
type Session struct {
	SessionID  string `json:"session_id"`
	AdminEmail string `json:"admin_email"`
	LoginTime  string `json:"login_time"`
	LogoutTime string `json:"logout_time"`
	IPAddress  string `json:"ip_address"`
	Device     string `json:"device"`
}

// Authenticator issues and verifies HS256 admin tokens.
type Authenticator struct {
	store        *tabstore.Store
	secret       []byte
	adminEmail   string
	passwordHash []byte
}

// New registers the admin_access table and hashes the configured password.
func New(store *tabstore.Store, secret, adminEmail, adminPassword string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if adminEmail == "" || adminPassword == "" {
		return nil, errors.New("auth: admin credentials are required")
	}
	if err := store.CreateTable(domain.TableAdminAccess, domain.AdminAccessSchema); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash admin password: %w", err)
	}
	return &Authenticator{
		store:        store,
		secret:       []byte(secret),
		adminEmail:   adminEmail,
		passwordHash: hash,
	}, nil
}

// Login checks the credentials, records a session row and returns a signed
// bearer token.
func (a *Authenticator) Login(email, password, ip, device string) (string, Session, error) {
	if email != a.adminEmail ||
		bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		return "", Session{}, ErrInvalidCredentials
	}

	now := domain.Now()
	sess := Session{
		AdminEmail: email,
		LoginTime:  domain.Timestamp(now),
		IPAddress:  ip,
		Device:     device,
	}
	sessionID, err := a.store.AppendWithGeneratedID(domain.TableAdminAccess, "session_id", "SES-", 4,
		map[string]string{
			"admin_email": sess.AdminEmail,
			"login_time":  sess.LoginTime,
			"ip_address":  sess.IPAddress,
			"device":      sess.Device,
		})
	if err != nil {
		return "", Session{}, err
	}
	sess.SessionID = sessionID

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   email,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, sess, nil
}

// Logout stamps the session's logout time. Unknown sessions are reported as
// not found.
func (a *Authenticator) Logout(sessionID string) error {
	n, err := a.store.UpdateWhere(domain.TableAdminAccess, "session_id", sessionID,
		map[string]string{"logout_time": domain.Timestamp(domain.Now())})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return nil
}

// Verify parses a bearer token and returns the admin email and session ID.
func (a *Authenticator) Verify(token string) (email, sessionID string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != a.adminEmail {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.ID, nil
}

// Sessions returns all admin_access rows in insertion order.
func (a *Authenticator) Sessions() ([]Session, error) {
	rows, err := a.store.ReadAll(domain.TableAdminAccess)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, Session{
			SessionID:  row["session_id"],
			AdminEmail: row["admin_email"],
			LoginTime:  row["login_time"],
			LogoutTime: row["logout_time"],
			IPAddress:  row["ip_address"],
			Device:     row["device"],
		})
	}
	return out, nil
}
