package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sl "chat_service/internal/lib/logger/sl"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 6
	PasswordCost   = 10
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	tokens      TokenIssuer
	now         func() time.Time

	// dummyHash is compared against when the email is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) error
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
}

type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokens TokenIssuer,
) *Auth {
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), PasswordCost)
	if err != nil {
		panic("auth: failed to prepare dummy hash: " + err.Error())
	}

	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		tokens:      tokens,
		now:         time.Now,
		dummyHash:   dummy,
	}
}

// NormalizeEmail makes email comparisons case and whitespace insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// * RegisterNewUser stores a new user with a bcrypt password hash and returns its id
func (a *Auth) RegisterNewUser(ctx context.Context, email, pass string) (string, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(
		slog.String("op", op),
	)

	if len(pass) < MinPasswordLen {
		return "", fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	log.Info("Registering new user")

	passHash, err := bcrypt.GenerateFromPassword([]byte(pass), PasswordCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     NormalizeEmail(email),
		PassHash:  passHash,
		CreatedAt: a.now().UTC(),
	}

	if err := a.usrSaver.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("User already exists")

			return "", fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("Failed to save user", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return user.ID, nil
}

// * VerifyPassword returns the user owning the credentials.
// Unknown email and wrong password produce the same error.
func (a *Auth) VerifyPassword(ctx context.Context, email, pass string) (models.User, error) {
	const op = "auth.VerifyPassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.User(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(pass))

			log.Info("invalid credentials")
			return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(pass)); err != nil {
		log.Info("invalid credentials")
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return user, nil
}

// * Register creates the user and returns a token for it
func (a *Auth) Register(ctx context.Context, email, pass string) (string, error) {
	const op = "auth.Register"

	uid, err := a.RegisterNewUser(ctx, email, pass)
	if err != nil {
		return "", err
	}

	token, err := a.tokens.Issue(uid, NormalizeEmail(email))
	if err != nil {
		a.log.Error("failed to issue token", slog.String("op", op), sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user registered", slog.String("op", op), slog.String("uid", uid))

	return token, nil
}

// * Login checks credentials and returns a fresh token
func (a *Auth) Login(ctx context.Context, email, pass string) (string, error) {
	const op = "auth.Login"

	user, err := a.VerifyPassword(ctx, email, pass)
	if err != nil {
		return "", err
	}

	token, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		a.log.Error("failed to issue token", slog.String("op", op), sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged in successfully", slog.String("op", op), slog.String("uid", user.ID))

	return token, nil
}
