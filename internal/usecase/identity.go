package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

var tracer = otel.Tracer("usecase")

type IdentityConfig struct {
	TempCodeSalt    string
	AccessTokenSalt string
	// VerifyURL is expanded with {userId} and {code}.
	VerifyURL   string
	MailTimeout time.Duration
	Now         func() time.Time
}

// IdentityUsecase drives a user from sign-up through email verification to a bearer token.
type IdentityUsecase struct {
	users  Repository[domain.User]
	codes  Repository[domain.TempCode]
	tokens Repository[domain.AccessToken]
	mail   MailSender
	config IdentityConfig
	inbox  sync.WaitGroup
}

func NewIdentityUsecase(
	users Repository[domain.User],
	codes Repository[domain.TempCode],
	tokens Repository[domain.AccessToken],
	mail MailSender,
	config IdentityConfig,
) *IdentityUsecase {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = 30 * time.Second
	}
	return &IdentityUsecase{
		users:  users,
		codes:  codes,
		tokens: tokens,
		mail:   mail,
		config: config,
	}
}

func (uc *IdentityUsecase) tempCode(nickname, email string) string {
	return domain.SaltedDigest(uc.config.TempCodeSalt, nickname, email)
}

func (uc *IdentityUsecase) accessToken(userID string) string {
	return domain.SaltedDigest(uc.config.AccessTokenSalt, userID)
}

// VerifyLink is the link mailed to a user who signed up.
func (uc *IdentityUsecase) VerifyLink(userID, code string) string {
	return strings.NewReplacer("{userId}", userID, "{code}", code).Replace(uc.config.VerifyURL)
}

// SignUp registers (or re-registers) the owner of email and mails a one-time code.
// Mail delivery is not awaited; a lost mail is recovered by signing up again.
func (uc *IdentityUsecase) SignUp(ctx context.Context, req domain.SignUpRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.SignUp")
	defer span.End()

	if err := req.Validate(); err != nil {
		return "", err
	}

	nickname := strings.TrimSpace(req.Nickname)
	email := domain.NormalizeEmail(req.Email)
	user := domain.NewUser(nickname, email)
	span.SetAttributes(attribute.String("userId", user.UserID))

	previous, err := uc.users.Get(ctx, user.UserID)
	switch {
	case err == nil, errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, domain.ErrCorruptData):
		// the upsert below replaces the record
		slog.WarnContext(
			ctx, "overwriting corrupt user record",
			slog.String("userId", user.UserID),
			slog.String("error", err.Error()),
			slog.String("module", "identity"),
		)
	default:
		span.RecordError(errors.Wrap(err, "failed to look up existing user"))
		return "", err
	}
	renamed := err == nil && previous.Nickname != nickname

	code := domain.TempCode{
		Code:     uc.tempCode(nickname, email),
		UserID:   user.UserID,
		IssuedAt: uc.config.Now(),
	}

	var g errgroup.Group
	g.Go(func() error {
		return uc.codes.Put(ctx, code)
	})
	g.Go(func() error {
		return uc.users.Put(ctx, user)
	})
	if renamed {
		stale := domain.TempCode{Code: uc.tempCode(previous.Nickname, email), UserID: user.UserID}
		g.Go(func() error {
			return uc.codes.Delete(ctx, stale)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to persist sign-up"))
		return "", err
	}

	uc.dispatch(ctx, domain.Mail{
		To:      email,
		ToName:  nickname,
		Subject: "Verify your email",
		Body: fmt.Sprintf(
			"Hi %s,\n\nOpen the link below within %d minutes to finish signing up.\n\n%s\n",
			nickname, int(domain.TempCodeTTL/time.Minute), uc.VerifyLink(user.UserID, code.Code),
		),
	})

	return user.UserID, nil
}

func (uc *IdentityUsecase) dispatch(ctx context.Context, mail domain.Mail) {
	if uc.mail == nil {
		return
	}
	uc.inbox.Add(1)
	go func() {
		defer uc.inbox.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.config.MailTimeout)
		defer cancel()

		if err := uc.mail.Send(ctx, mail); err != nil {
			slog.ErrorContext(
				ctx, "failed to send verification mail",
				slog.String("error", err.Error()),
				slog.String("module", "identity"),
			)
		}
	}()
}

// WaitMail blocks until every dispatched mail has finished.
func (uc *IdentityUsecase) WaitMail() {
	uc.inbox.Wait()
}

// VerifyTempCode exchanges a mailed code for an access token and marks the user verified.
func (uc *IdentityUsecase) VerifyTempCode(ctx context.Context, userID, code string) (string, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.VerifyTempCode")
	defer span.End()
	span.SetAttributes(attribute.String("userId", userID))

	var (
		tempCode domain.TempCode
		user     domain.User
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		tempCode, err = uc.codes.Get(ctx, code)
		return err
	})
	g.Go(func() error {
		var err error
		user, err = uc.users.Get(ctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "lookup failed"))
		return "", domain.ErrUnauthorized
	}

	if tempCode.UserID != userID {
		return "", domain.ErrUnauthorized
	}
	if tempCode.Expired(uc.config.Now()) {
		span.RecordError(fmt.Errorf("temp code expired"))
		return "", domain.ErrUnauthorized
	}

	user.IsVerified = true
	token := domain.AccessToken{
		Token:  uc.accessToken(userID),
		UserID: userID,
	}
	tempCode.Code = code

	g = errgroup.Group{}
	g.Go(func() error {
		return uc.tokens.Put(ctx, token)
	})
	g.Go(func() error {
		return uc.users.Put(ctx, user)
	})
	g.Go(func() error {
		return uc.codes.Delete(ctx, tempCode)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to persist verification"))
		return "", err
	}

	return token.Token, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header http.Header) (string, bool) {
	authType, token, ok := strings.Cut(header.Get("Authorization"), " ")
	if !ok || authType != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CheckAuth reports whether the bearer token in header belongs to userID.
// Every failure, including an unreachable store, is a denial.
func (uc *IdentityUsecase) CheckAuth(ctx context.Context, userID string, header http.Header) bool {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.CheckAuth")
	defer span.End()

	token, ok := BearerToken(header)
	if !ok {
		return false
	}

	var accessToken domain.AccessToken
	var g errgroup.Group
	g.Go(func() error {
		_, err := uc.users.Get(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		accessToken, err = uc.tokens.Get(ctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(errors.Wrap(err, "auth lookup failed"))
		}
		return false
	}

	return accessToken.UserID == userID
}

// Delete removes the user and its access token after CheckAuth passes.
func (uc *IdentityUsecase) Delete(ctx context.Context, userID string, header http.Header) error {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.Delete")
	defer span.End()

	if !uc.CheckAuth(ctx, userID, header) {
		return domain.ErrUnauthorized
	}

	var g errgroup.Group
	g.Go(func() error {
		return uc.users.Delete(ctx, domain.User{UserID: userID})
	})
	g.Go(func() error {
		return uc.tokens.Delete(ctx, domain.AccessToken{Token: uc.accessToken(userID), UserID: userID})
	})
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to delete user"))
		return err
	}
	return nil
}

func (uc *IdentityUsecase) Get(ctx context.Context, userID string) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.Get")
	defer span.End()

	return uc.users.Get(ctx, userID)
}

// GetMany returns the users that exist among ids, in the order given.
func (uc *IdentityUsecase) GetMany(ctx context.Context, ids []string) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Identity.Usecase.GetMany")
	defer span.End()

	found := make([]*domain.User, len(ids))
	var g errgroup.Group
	g.SetLimit(16)
	for i, id := range ids {
		g.Go(func() error {
			user, err := uc.users.Get(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to fetch users"))
		return nil, err
	}

	users := make([]domain.User, 0, len(ids))
	for _, u := range found {
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}
