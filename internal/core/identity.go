package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"uni.edu.pe/chatbot-uni/internal/auth"
	"uni.edu.pe/chatbot-uni/internal/store"
)

const minPasswordLength = 6

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var programs = sortedPrograms([]string{
	"Ingeniería de Software",
	"Ingeniería de Sistemas",
	"Ciencia de la Computación",
	"Ingeniería Civil",
	"Ingeniería Industrial",
	"Ingeniería Empresarial",
	"Administración",
	"Marketing",
	"Contabilidad",
	"Economía",
	"Arquitectura",
	"Diseño Gráfico",
	"Diseño de Interiores",
	"Comunicación Audiovisual",
	"Periodismo",
	"Derecho",
	"Psicología",
	"Medicina Humana",
	"Nutrición",
	"Terapia Física",
	"Ingeniería Electrónica",
	"Ingeniería Mecatrónica",
	"Ingeniería de Telecomunicaciones",
	"Ingeniería Ambiental",
	"Ingeniería de Minas",
	"Gastronomía",
	"Hotelería y Administración",
})

func sortedPrograms(list []string) []string {
	c := collate.New(language.Spanish)
	sort.SliceStable(list, func(i, j int) bool {
		return c.CompareString(list[i], list[j]) < 0
	})
	return list
}

// Programs returns the academic programs a profile may select.
func Programs() []string {
	return append([]string(nil), programs...)
}

func isKnownProgram(p string) bool {
	for _, known := range programs {
		if known == p {
			return true
		}
	}
	return false
}

type RegisterInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	GivenName       string `json:"givenName"`
	FamilyName      string `json:"familyName"`
	Program         string `json:"program"`
}

type ProfileInput struct {
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
	Program    string `json:"program"`
}

// AuthResult is returned by every successful sign-in.
type AuthResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *store.User `json:"user"`
}

type IdentityDeps struct {
	Store     store.Store
	Tokens    *auth.JWTManager
	Federated auth.FederatedVerifier // nil disables federated sign-in
	Sessions  *SessionManager
	Now       func() time.Time
}

// IdentityService registers users, signs them in and out and maintains their
// profile.
type IdentityService struct {
	deps IdentityDeps
}

func NewIdentityService(deps IdentityDeps) *IdentityService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &IdentityService{deps: deps}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in RegisterInput) validate() error {
	verr := &ValidationError{}
	if len(in.Password) < minPasswordLength {
		verr.add("password", "La contraseña debe tener al menos 6 caracteres")
	}
	if in.Password != in.ConfirmPassword {
		verr.add("confirmPassword", "Las contraseñas no coinciden")
	}
	if !emailRe.MatchString(normalizeEmail(in.Email)) {
		verr.add("email", "Por favor ingresa un correo electrónico válido")
	}
	ProfileInput{GivenName: in.GivenName, FamilyName: in.FamilyName, Program: in.Program}.validateInto(verr)
	return verr.orNil()
}

func (in ProfileInput) validateInto(verr *ValidationError) {
	if strings.TrimSpace(in.GivenName) == "" {
		verr.add("givenName", "El nombre es obligatorio")
	}
	if strings.TrimSpace(in.FamilyName) == "" {
		verr.add("familyName", "El apellido es obligatorio")
	}
	if !isKnownProgram(strings.TrimSpace(in.Program)) {
		verr.add("program", "Debes seleccionar una carrera")
	}
}

// Register creates a password account and signs it in.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.deps.Now()
	given, family := strings.TrimSpace(in.GivenName), strings.TrimSpace(in.FamilyName)
	user := &store.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		GivenName:    given,
		FamilyName:   family,
		FullName:     given + " " + family,
		Program:      strings.TrimSpace(in.Program),
		Stats:        store.UserStats{LastActivity: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", "userId", user.ID)
	return s.issue(user)
}

// SignIn checks email and password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *IdentityService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.deps.Store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user.PasswordHash == "" || auth.CheckPassword(user.PasswordHash, password) != nil {
		return nil, ErrInvalidCredentials
	}

	s.touch(ctx, user)
	return s.issue(user)
}

// FederatedSignIn verifies a federated credential. First-time users get a
// profile flagged as needing additional information.
func (s *IdentityService) FederatedSignIn(ctx context.Context, credential string) (*AuthResult, error) {
	if s.deps.Federated == nil {
		return nil, ErrFederatedNotConfigured
	}

	ident, err := s.deps.Federated.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	email := normalizeEmail(ident.Email)
	user, err := s.deps.Store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.FederatedSubject != "" && user.FederatedSubject != ident.Subject {
			slog.Warn("federated subject mismatch", "userId", user.ID)
			return nil, ErrInvalidCredentials
		}
		if user.FederatedSubject == "" {
			user.FederatedSubject = ident.Subject
			user.UpdatedAt = s.deps.Now()
			if err := s.deps.Store.UpdateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to link federated identity: %w", err)
			}
		}
		s.touch(ctx, user)
		return s.issue(user)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	now := s.deps.Now()
	given, family, full := splitDisplayName(ident.DisplayName)
	user = &store.User{
		ID:                  uuid.NewString(),
		Email:               email,
		GivenName:           given,
		FamilyName:          family,
		FullName:            full,
		PhotoURL:            ident.PhotoURL,
		IsFederated:         true,
		FederatedSubject:    ident.Subject,
		NeedsAdditionalInfo: true,
		Stats:               store.UserStats{LastActivity: now},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.deps.Store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("federated user created", "userId", user.ID)
	return s.issue(user)
}

// splitDisplayName takes the first word as given name and the rest as family
// name, with placeholders for missing parts.
func splitDisplayName(displayName string) (given, family, full string) {
	fields := strings.Fields(displayName)
	given, family = "Usuario", "Nuevo"
	if len(fields) > 0 {
		given = fields[0]
	}
	if len(fields) > 1 {
		family = strings.Join(fields[1:], " ")
	}
	full = strings.TrimSpace(displayName)
	if full == "" {
		full = "Usuario Nuevo"
	}
	return given, family, full
}

// Authenticate resolves a bearer token to its claims.
func (s *IdentityService) Authenticate(token string) (*auth.Claims, error) {
	return s.deps.Tokens.VerifyToken(token)
}

// SignOut revokes the token and drops the user's live chat sessions.
func (s *IdentityService) SignOut(claims *auth.Claims) {
	s.deps.Tokens.Revoke(claims)
	if s.deps.Sessions != nil {
		n := s.deps.Sessions.CloseUser(claims.UserID)
		slog.Info("user signed out", "userId", claims.UserID, "closedSessions", n)
	}
}

func (s *IdentityService) CurrentUser(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.deps.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// CompleteProfile fills in the fields a federated sign-in could not provide.
func (s *IdentityService) CompleteProfile(ctx context.Context, userID string, in ProfileInput) (*store.User, error) {
	verr := &ValidationError{}
	in.validateInto(verr)
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.GivenName = strings.TrimSpace(in.GivenName)
	user.FamilyName = strings.TrimSpace(in.FamilyName)
	user.FullName = user.GivenName + " " + user.FamilyName
	user.Program = strings.TrimSpace(in.Program)
	user.NeedsAdditionalInfo = false
	user.UpdatedAt = s.deps.Now()

	if err := s.deps.Store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

func (s *IdentityService) UpdateDisplayName(ctx context.Context, userID, name string) (*store.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		verr := &ValidationError{}
		verr.add("fullName", "El nombre es obligatorio")
		return nil, verr
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.FullName = name
	user.UpdatedAt = s.deps.Now()
	if err := s.deps.Store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update display name: %w", err)
	}
	return user, nil
}

func (s *IdentityService) touch(ctx context.Context, user *store.User) {
	now := s.deps.Now()
	if err := s.deps.Store.RecordActivity(ctx, user.ID, 0, 0, now); err != nil {
		slog.Warn("failed to refresh last activity", "userId", user.ID, "error", err)
		return
	}
	user.Stats.LastActivity = now
}

func (s *IdentityService) issue(user *store.User) (*AuthResult, error) {
	token, expiresAt, err := s.deps.Tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
