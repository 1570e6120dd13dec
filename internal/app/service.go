package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"notesync/api/internal/auth"
	"notesync/api/internal/authpw"
	"notesync/api/internal/config"
	"notesync/api/internal/genai"
	"notesync/api/internal/logging"
	"notesync/api/internal/realtime"
	"notesync/api/internal/search"
	"notesync/api/internal/store"
)

type dataStore interface {
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, string, string) (store.User, error)
	FindNotesByOwner(context.Context, string) ([]store.Note, error)
	FindNote(context.Context, string, string) (store.Note, error)
	InsertNote(context.Context, store.Note) (string, error)
	UpdateNote(context.Context, string, string, store.NoteFields) (int64, error)
	DeleteNote(context.Context, string, string) (int64, error)
	Ping(context.Context) error
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, event realtime.Event) int
}

type noteSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexNote(note search.NoteRecord)
	DeleteNote(id string)
}

const (
	noSummaryFallback = "No summary generated."
	noAnswerFallback  = "No answer generated."
)

type Service struct {
	cfg        config.Config
	store      dataStore
	verifier   *auth.Verifier
	passwords  *authpw.Service
	gate       *Gate
	dispatcher eventDispatcher
	search     noteSearcher
	generator  genai.Generator
	validate   *validator.Validate
	logger     *slog.Logger
	aiTimeout  time.Duration
	now        func() time.Time
}

func New(cfg config.Config, dataStore dataStore, dispatcher eventDispatcher, searchService noteSearcher, generator genai.Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if generator == nil {
		generator = genai.Disabled{}
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	aiTimeout := cfg.AITimeout
	if aiTimeout <= 0 {
		aiTimeout = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		verifier:   verifier,
		passwords:  authpw.NewService(dataStore),
		gate:       NewGate(verifier, dataStore, logger),
		dispatcher: dispatcher,
		search:     searchService,
		generator:  generator,
		validate:   newValidator(),
		logger:     logger,
		aiTimeout:  aiTimeout,
		now:        time.Now,
	}
}

// WithClock replaces the time source for token issuance and note
// timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.verifier.WithClock(now)
	return s
}

// WithPasswordCost lowers the bcrypt cost in tests.
func (s *Service) WithPasswordCost(cost int) *Service {
	s.passwords.WithCost(cost)
	return s
}

func (s *Service) Gate() *Gate {
	return s.gate
}

func (s *Service) Verifier() *auth.Verifier {
	return s.verifier
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Accounts

type LoginResult struct {
	Token     string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

func (s *Service) Register(ctx context.Context, username, password string) (store.User, error) {
	user, err := s.passwords.Register(ctx, authpw.Credentials{Username: username, Password: password})
	switch {
	case errors.Is(err, authpw.ErrMissingFields):
		return store.User{}, validationError("Username and password are required", nil)
	case errors.Is(err, authpw.ErrUsernameTaken):
		return store.User{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username already exists", nil)
	case errors.Is(err, authpw.ErrPasswordTooLong):
		return store.User{}, validationError("Password must be at most 72 bytes", nil)
	case err != nil:
		return store.User{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.passwords.SignIn(ctx, authpw.Credentials{Username: username, Password: password})
	switch {
	case errors.Is(err, authpw.ErrMissingFields):
		return LoginResult{}, validationError("Username and password are required", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return LoginResult{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	case err != nil:
		return LoginResult{}, err
	}
	token, identity, err := s.verifier.Issue(user.ID, user.Username)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, UserID: user.ID, Username: user.Username, ExpiresAt: identity.ExpiresAt}, nil
}

// Notes

type CreateNoteInput struct {
	Title   string `json:"title" validate:"required,nonblank"`
	Content string `json:"content" validate:"required,nonblank"`
}

// UpdateNoteInput uses pointers so an absent field differs from an empty
// one.
type UpdateNoteInput struct {
	Title   *string `json:"title" validate:"omitnil,nonblank"`
	Content *string `json:"content" validate:"omitnil,nonblank"`
}

func (s *Service) ListNotes(ctx context.Context, identity auth.Identity) ([]store.Note, error) {
	return s.store.FindNotesByOwner(ctx, identity.UserID)
}

func (s *Service) GetNote(ctx context.Context, identity auth.Identity, noteID string) (store.Note, error) {
	noteID, err := canonicalNoteID(noteID)
	if err != nil {
		return store.Note{}, err
	}
	note, err := s.store.FindNote(ctx, noteID, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound()
	}
	return note, err
}

func (s *Service) CreateNote(ctx context.Context, identity auth.Identity, input CreateNoteInput) (store.Note, error) {
	if err := s.validateInput(input); err != nil {
		return store.Note{}, err
	}
	note := store.Note{
		ID:        uuid.NewString(),
		OwnerID:   identity.UserID,
		Title:     input.Title,
		Content:   input.Content,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	note.UpdatedAt = note.CreatedAt
	id, err := s.store.InsertNote(ctx, note)
	if err != nil {
		return store.Note{}, err
	}
	note.ID = id

	s.emit(ctx, realtime.NoteCreated(note))
	s.indexNote(note)
	return note, nil
}

func (s *Service) UpdateNote(ctx context.Context, identity auth.Identity, noteID string, input UpdateNoteInput) (store.Note, error) {
	noteID, err := canonicalNoteID(noteID)
	if err != nil {
		return store.Note{}, err
	}
	if input.Title == nil && input.Content == nil {
		return store.Note{}, validationError("No fields to update", nil)
	}
	if err := s.validateInput(input); err != nil {
		return store.Note{}, err
	}
	matched, err := s.store.UpdateNote(ctx, noteID, identity.UserID, store.NoteFields{Title: input.Title, Content: input.Content})
	if err != nil {
		return store.Note{}, err
	}
	if matched == 0 {
		return store.Note{}, notFound()
	}
	note, err := s.store.FindNote(ctx, noteID, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// deleted between the update and the read
		return store.Note{}, notFound()
	}
	if err != nil {
		return store.Note{}, err
	}

	s.emit(ctx, realtime.NoteUpdated(note))
	s.indexNote(note)
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, identity auth.Identity, noteID string) error {
	noteID, err := canonicalNoteID(noteID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteNote(ctx, noteID, identity.UserID)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return notFound()
	}

	s.emit(ctx, realtime.NoteDeleted(noteID, identity.UserID))
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

// emit runs before the mutation reports success. Delivery failures are
// handled inside the dispatcher.
func (s *Service) emit(ctx context.Context, event realtime.Event) {
	if s.dispatcher == nil {
		return
	}
	delivered := s.dispatcher.Dispatch(ctx, event)
	s.logger.Debug("change event dispatched", "event", event.Type, "identity_id", event.IdentityID, "delivered", delivered)
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{ID: note.ID, Title: note.Title, Content: note.Content, OwnerID: note.OwnerID})
}

func (s *Service) SearchNotes(ctx context.Context, identity auth.Identity, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("Query parameter q is required", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, OwnerID: identity.UserID, Limit: limit}), nil
}

// Text generation

func (s *Service) SummarizeNote(ctx context.Context, identity auth.Identity, noteID string) (string, error) {
	note, err := s.GetNote(ctx, identity, noteID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(note.Content) == "" {
		return "", validationError("Note content is empty, nothing to summarize", nil)
	}
	return s.generate(ctx, genai.SummarizePrompt(note.Content), noSummaryFallback)
}

func (s *Service) AskNote(ctx context.Context, identity auth.Identity, noteID, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", validationError("Query is required", nil)
	}
	note, err := s.GetNote(ctx, identity, noteID)
	if err != nil {
		return "", err
	}
	return s.generate(ctx, genai.AskPrompt(note.Content, question), noAnswerFallback)
}

func (s *Service) generate(ctx context.Context, prompt, fallback string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()
	text, err := s.generator.Generate(ctx, prompt)
	if errors.Is(err, genai.ErrUnavailable) {
		return "", domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI service not configured on server", nil)
	}
	if err != nil {
		s.logger.Error("text generation failed", "error", err)
		return "", upstreamUnavailable("Failed to connect to AI service")
	}
	if strings.TrimSpace(text) == "" {
		return fallback, nil
	}
	return text, nil
}

// Validation

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	if len(fields) == 1 {
		return validationError(fmt.Sprintf("%s must not be empty", fields[0]), map[string]any{"fields": fields})
	}
	return validationError("Title and content are required", map[string]any{"fields": fields})
}

// canonicalNoteID accepts any form uuid.Parse does and returns the
// lowercase dashed form used in stored rows and change events.
func canonicalNoteID(noteID string) (string, error) {
	parsed, err := uuid.Parse(noteID)
	if err != nil {
		return "", validationError("Invalid note ID format", nil)
	}
	return parsed.String(), nil
}
