package identity

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
	"legjenda/app/internal/validation"
)

const (
	defaultSessionTTL = 24 * time.Hour
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

// JWTOptions configures a JWTProvider.
type JWTOptions struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

// JWTProvider issues HS256 session tokens for users stored in the database.
type JWTProvider struct {
	db        *gorm.DB
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
	validate  *validator.Validate
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

var _ Provider = (*JWTProvider)(nil)

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTProvider constructs the provider. The secret must be non-empty.
func NewJWTProvider(database *gorm.DB, opts JWTOptions, logger *logrus.Logger, hub *sentry.Hub) (*JWTProvider, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, eris.New("jwt secret is required")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &JWTProvider{
		db:        database,
		secret:    []byte(opts.Secret),
		ttl:       ttl,
		now:       now,
		validate:  validation.New(),
		logger:    logger,
		sentryHub: hub,
	}, nil
}

// Register creates a user and signs it in.
func (p *JWTProvider) Register(ctx context.Context, email, password, fullName string) (*Session, error) {
	normalized := NormalizeEmail(email)
	if !validation.Email(p.validate, normalized) {
		return nil, apperr.Validation("a valid email address is required")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return nil, apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, eris.Wrap(err, "hashing password")
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        normalized,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(fullName),
		CreatedAt:    p.now().UTC(),
	}

	if err := p.db.WithContext(ctx).Create(&user).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("an account for %s already exists", normalized)
		}
		p.recordError(logrus.Fields{"email": normalized}, err, "creating user")
		return nil, apperr.Dependency(err, "creating user")
	}

	return p.issue(user)
}

// SignInWithPassword verifies the credentials and returns a fresh session token.
func (p *JWTProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user User
	err := p.db.WithContext(ctx).First(&user, "email = ?", normalized).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		p.recordError(logrus.Fields{"email": normalized}, err, "loading user for sign in")
		return nil, apperr.Dependency(err, "loading user")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return p.issue(user)
}

// CurrentSession returns the caller bound to the context token. Missing, malformed,
// expired or revoked tokens yield a nil identity and no error.
func (p *JWTProvider) CurrentSession(ctx context.Context) (*Identity, error) {
	claims := p.parse(TokenFromContext(ctx))
	if claims == nil {
		return nil, nil
	}

	var revoked int64
	if err := p.db.WithContext(ctx).Model(&RevokedSession{}).Where("session_id = ?", claims.ID).Count(&revoked).Error; err != nil {
		p.recordError(logrus.Fields{"session_id": claims.ID}, err, "checking revoked sessions")
		return nil, apperr.Dependency(err, "checking session")
	}
	if revoked > 0 {
		return nil, nil
	}

	var user User
	if err := p.db.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		p.recordError(logrus.Fields{"user_id": claims.Subject}, err, "loading session user")
		return nil, apperr.Dependency(err, "loading session user")
	}

	return &Identity{ID: user.ID, Email: user.Email}, nil
}

// SignOut revokes the token bound to the context. Signing out without a valid token is a no-op.
func (p *JWTProvider) SignOut(ctx context.Context) error {
	claims := p.parse(TokenFromContext(ctx))
	if claims == nil {
		return nil
	}

	expiresAt := p.now().Add(p.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	row := RevokedSession{SessionID: claims.ID, ExpiresAt: expiresAt.UTC()}
	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		p.recordError(logrus.Fields{"session_id": claims.ID}, err, "revoking session")
		return apperr.Dependency(err, "revoking session")
	}

	return nil
}

// PurgeRevoked deletes revoked-session rows whose tokens have expired.
func (p *JWTProvider) PurgeRevoked(ctx context.Context) (int64, error) {
	result := p.db.WithContext(ctx).Where("expires_at < ?", p.now().UTC()).Delete(&RevokedSession{})
	if result.Error != nil {
		p.recordError(nil, result.Error, "purging revoked sessions")
		return 0, eris.Wrap(result.Error, "purging revoked sessions")
	}

	return result.RowsAffected, nil
}

func (p *JWTProvider) issue(user User) (*Session, error) {
	issuedAt := p.now()
	expiresAt := issuedAt.Add(p.ttl)

	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, eris.Wrap(err, "signing session token")
	}

	return &Session{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  Identity{ID: user.ID, Email: user.Email},
	}, nil
}

func (p *JWTProvider) parse(raw string) *sessionClaims {
	if raw == "" {
		return nil
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil
	}

	return claims
}

func (p *JWTProvider) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if p.logger != nil {
		entry := p.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if p.sentryHub != nil {
		p.sentryHub.CaptureException(err)
	}
}
