package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/calendar"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/diary"
	"github.com/MarcoPoloResearchLab/moodlog/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 8
	minUsernameLength = 3
	maxUsernameLength = 50
	maxNicknameLength = 100
)

var (
	// ErrInvalidCredentials is returned for every failed login, whatever the cause.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrConflict indicates the username or email is already taken.
	ErrConflict = errors.New("users: username or email already registered")
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrValidation indicates malformed registration or profile input.
	ErrValidation = errors.New("users: validation failed")

	noOpLogger = zap.NewNop()
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Hasher     PasswordHasher
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages accounts and resolves authenticated subjects.
type Service struct {
	db         *gorm.DB
	hasher     PasswordHasher
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
	cache      sync.Map

	dummyHashOnce sync.Once
	dummyHash     string
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Username string
	Email    string
	Nickname string
	Password string
}

// UpdateInput carries a partial profile update; nil fields are left unchanged.
type UpdateInput struct {
	Username *string
	Email    *string
	Nickname *string
	Password *string
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("users: password hasher required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		hasher:     cfg.Hasher,
		idProvider: cfg.IDProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// Register creates an account with a hashed password.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	username, err := validateUsername(input.Username)
	if err != nil {
		return User{}, err
	}
	email, err := validateEmail(input.Email)
	if err != nil {
		return User{}, err
	}
	nickname, err := validateNickname(input.Nickname)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return User{}, err
	}
	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}

	timestamp := s.now().UTC()
	user := User{
		ID:           userID,
		Username:     username,
		Email:        email,
		Nickname:     nickname,
		PasswordHash: passwordHash,
		CreatedAt:    timestamp,
		UpdatedAt:    timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrConflict
		}
		s.logger.Error("user registration failed", zap.Error(err))
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	s.cache.Store(user.ID, struct{}{})
	return user, nil
}

// Authenticate resolves login (email or username) and verifies the password.
// Unknown logins and wrong passwords yield the same ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, login, password string) (User, error) {
	login = normalize(login)
	if login == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	column := "username"
	value := login
	if strings.Contains(login, "@") {
		column = "email"
		value = normalizeEmail(login)
	}

	var user User
	err := s.db.WithContext(ctx).Where(column+" = ?", value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.hasher.Verify(password, s.unknownUserHash())
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("user lookup failed", zap.Error(err))
		return User{}, fmt.Errorf("users: lookup: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// unknownUserHash is compared against when the login matches no account so
// both failure paths spend the same bcrypt work.
func (s *Service) unknownUserHash() string {
	s.dummyHashOnce.Do(func() {
		hash, err := s.hasher.Hash("moodlog-unknown-user")
		if err != nil {
			s.logger.Warn("dummy password hash failed", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// Get returns the user with the provided identifier.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, ErrNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.cache.Delete(userID)
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return user, nil
}

// ResolveActiveUserID confirms a token subject still names an existing account.
func (s *Service) ResolveActiveUserID(ctx context.Context, subject string) (string, error) {
	subject = normalize(subject)
	if subject == "" {
		return "", ErrNotFound
	}
	if _, ok := s.cache.Load(subject); ok {
		return subject, nil
	}
	user, err := s.Get(ctx, subject)
	if err != nil {
		return "", err
	}
	s.cache.Store(user.ID, struct{}{})
	return user.ID, nil
}

// Update applies a partial profile update.
func (s *Service) Update(ctx context.Context, userID string, input UpdateInput) (User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}

	updates := map[string]interface{}{}
	if input.Username != nil {
		username, err := validateUsername(*input.Username)
		if err != nil {
			return User{}, err
		}
		if username != user.Username {
			updates["username"] = username
		}
	}
	if input.Email != nil {
		email, err := validateEmail(*input.Email)
		if err != nil {
			return User{}, err
		}
		if email != user.Email {
			updates["email"] = email
		}
	}
	if input.Nickname != nil {
		nickname, err := validateNickname(*input.Nickname)
		if err != nil {
			return User{}, err
		}
		if nickname != user.Nickname {
			updates["nickname"] = nickname
		}
	}
	if input.Password != nil {
		if err := validatePassword(*input.Password); err != nil {
			return User{}, err
		}
		passwordHash, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		updates["password_hash"] = passwordHash
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = s.now().UTC()

	err = s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", user.ID).
		Updates(updates).
		Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return User{}, ErrConflict
	}
	if err != nil {
		s.logger.Error("user update failed", zap.String("user_id", user.ID), zap.Error(err))
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	return s.Get(ctx, user.ID)
}

// Delete removes the user together with its diaries and calendar days.
func (s *Service) Delete(ctx context.Context, userID string) error {
	userID = normalize(userID)
	if userID == "" {
		return ErrNotFound
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", userID).Delete(&User{})
		if result.Error != nil {
			return fmt.Errorf("users: delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("user_id = ?", userID).Delete(&diary.Diary{}).Error; err != nil {
			return fmt.Errorf("users: delete diaries: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&calendar.Day{}).Error; err != nil {
			return fmt.Errorf("users: delete calendar days: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("user delete failed", zap.String("user_id", userID), zap.Error(err))
		}
		return err
	}
	s.cache.Delete(userID)
	return nil
}

func validateUsername(raw string) (string, error) {
	username := normalize(raw)
	length := utf8.RuneCountInString(username)
	if length < minUsernameLength || length > maxUsernameLength {
		return "", fmt.Errorf("%w: username must be %d-%d characters", ErrValidation, minUsernameLength, maxUsernameLength)
	}
	if strings.ContainsAny(username, "@ \t\n") {
		return "", fmt.Errorf("%w: username must not contain spaces or @", ErrValidation)
	}
	return username, nil
}

func validateEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	address, err := mail.ParseAddress(email)
	if err != nil || address.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return email, nil
}

func validateNickname(raw string) (string, error) {
	nickname := normalize(raw)
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		return "", fmt.Errorf("%w: nickname exceeds %d characters", ErrValidation, maxNicknameLength)
	}
	return nickname, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}
