package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/yasushisakai/ornot-server/client"
	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/infra/store"
	"github.com/yasushisakai/ornot-server/internal/present/rest/middleware"
	"github.com/yasushisakai/ornot-server/internal/service"
	"github.com/yasushisakai/ornot-server/internal/usecase"
)

type outbox struct {
	mu   sync.Mutex
	sent []domain.Mail
}

func (o *outbox) Send(ctx context.Context, m domain.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) last() domain.Mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[len(o.sent)-1]
}

type testServer struct {
	*httptest.Server
	identity *usecase.IdentityUsecase
	mail     *outbox
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	s := store.New(store.NewMemoryBackend(), store.Options{})
	users := store.NewRepository[domain.User](s)
	topics := store.NewRepository[domain.Topic](s, store.WithItemID(domain.TopicIDFromListItem))
	plans := store.NewRepository[domain.Plan](s)
	snapshots := store.NewRepository[domain.SettingSnapshot](s)

	mail := &outbox{}
	engine := service.NewTallyService()
	identity := usecase.NewIdentityUsecase(
		users,
		store.NewRepository[domain.TempCode](s),
		store.NewRepository[domain.AccessToken](s),
		mail,
		usecase.IdentityConfig{
			TempCodeSalt:    "temp",
			AccessTokenSalt: "token",
			VerifyURL:       "https://ornot.vote/auth/{userId}/{code}",
		},
	)

	handler := NewHandler(
		identity,
		usecase.NewTopicUsecase(topics, plans, snapshots, engine, nil),
		usecase.NewPlanUsecase(plans),
		usecase.NewSettingUsecase(snapshots, engine),
		usecase.NewReconcileUsecase(users, topics, plans),
		middleware.NewAuthMiddleware(identity, service.NewAuthService("admin-secret")),
		nil,
	)

	e := echo.New()
	handler.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return testServer{Server: srv, identity: identity, mail: mail}
}

// register signs up and verifies a user, returning its id and token.
func register(t *testing.T, ts testServer, cl *client.Client, nickname, email string) (string, string) {
	t.Helper()
	ctx := context.Background()

	userID, err := cl.SignUp(ctx, nickname, email)
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	ts.identity.WaitMail()

	body := ts.mail.last().Body
	prefix := "https://ornot.vote/auth/" + userID + "/"
	i := strings.Index(body, prefix)
	if i < 0 {
		t.Fatalf("verification link not found in %q", body)
	}
	code := strings.Fields(body[i+len(prefix):])[0]

	token, err := cl.Verify(ctx, userID, code)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	return userID, token
}

func TestEndToEndVoting(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	cl := client.New(ts.URL)

	alice, aliceToken := register(t, ts, cl, "alice", "a@x.com")

	ok, err := cl.Check(ctx, alice, aliceToken)
	if err != nil || !ok {
		t.Fatalf("check failed: %v %v", ok, err)
	}
	user, err := cl.GetUser(ctx, alice, aliceToken)
	if err != nil || !user.IsVerified {
		t.Fatalf("unexpected user %+v: %v", user, err)
	}

	topic, err := cl.PutTopic(ctx, "lunch", "where to eat")
	if err != nil {
		t.Fatalf("put topic failed: %v", err)
	}

	ramen, _ := domain.NewPlan(domain.SimplePlan{Title: "ramen"})
	soba, _ := domain.NewPlan(domain.SimplePlan{Title: "soba"})
	for _, p := range []domain.Plan{ramen, soba} {
		if _, err := cl.AddNewPlan(ctx, topic.TopicID, p); err != nil {
			t.Fatalf("add plan failed: %v", err)
		}
	}
	if _, err := cl.AddVoter(ctx, topic.TopicID, alice, aliceToken); err != nil {
		t.Fatalf("add voter failed: %v", err)
	}

	outcome, err := cl.Vote(ctx, topic.TopicID, alice, aliceToken, domain.Vote{ramen.ID(): 1})
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if outcome.Status != usecase.VoteUpdated {
		t.Fatalf("expected updated, got %s", outcome.Status)
	}
	outcome, err = cl.Vote(ctx, topic.TopicID, alice, aliceToken, domain.Vote{ramen.ID(): 1})
	if err != nil || outcome.Status != usecase.VoteNoChange {
		t.Fatalf("expected no change, got %s: %v", outcome.Status, err)
	}

	stored, err := cl.GetTopic(ctx, topic.TopicID)
	if err != nil {
		t.Fatalf("get topic failed: %v", err)
	}
	if stored.Result == nil || stored.Result.Ranking.Keys()[0] != ramen.ID() {
		t.Fatalf("unexpected result %+v", stored.Result)
	}

	plan, err := cl.GetPlan(ctx, soba.ID())
	if err != nil || plan.ID() != soba.ID() {
		t.Fatalf("get plan failed: %v", err)
	}

	planIDs, err := cl.ListPlans(ctx)
	if err != nil || len(planIDs) != 2 {
		t.Fatalf("unexpected plan list %v: %v", planIDs, err)
	}

	topics, err := cl.ListTopics(ctx)
	if err != nil || len(topics) != 1 || topics[0].ID != topic.TopicID {
		t.Fatalf("unexpected topic list %+v: %v", topics, err)
	}
}

func TestVoteRequiresOwnToken(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	cl := client.New(ts.URL)

	alice, _ := register(t, ts, cl, "alice", "a@x.com")
	_, bobToken := register(t, ts, cl, "bob", "b@x.com")
	topic, _ := cl.PutTopic(ctx, "lunch", "")

	_, err := cl.AddVoter(ctx, topic.TopicID, alice, bobToken)
	if se, ok := err.(client.StatusError); !ok || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	_, err = cl.Vote(ctx, topic.TopicID, alice, "", domain.Vote{"p": 1})
	if se, ok := err.(client.StatusError); !ok || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	cl := client.New(ts.URL)

	userID, err := cl.SignUp(ctx, "alice", "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	_, err = cl.Verify(ctx, userID, "nope")
	if se, ok := err.(client.StatusError); !ok || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header string
		want   int
	}{
		{"missing topic", http.MethodGet, "/api/v1/topic/none", "", "", http.StatusNotFound},
		{"empty title", http.MethodPut, "/api/v1/topic", `{"title":""}`, "", http.StatusBadRequest},
		{"bad signup", http.MethodPost, "/api/v1/user/signup", `{"nickname":"a","email":"nope"}`, "", http.StatusBadRequest},
		{"unknown plan type", http.MethodPut, "/api/v1/plan", `{"type":"poll"}`, "", http.StatusBadRequest},
		{"check without token", http.MethodGet, "/api/v1/user/u1/check", "", "", http.StatusUnauthorized},
		{"delete without token", http.MethodDelete, "/api/v1/user/u1", "", "", http.StatusUnauthorized},
		{"reconcile without admin", http.MethodPost, "/api/v1/admin/reconcile", "", "Bearer wrong", http.StatusUnauthorized},
		{"reconcile as admin", http.MethodPost, "/api/v1/admin/reconcile", "", "Bearer admin-secret", http.StatusOK},
		{"missing setting", http.MethodGet, "/api/v1/setting/abc", "", "", http.StatusNotFound},
		{"calculate", http.MethodPost, "/api/v1/setting/calculate", `{"voters":["u1"],"plans":["p1"],"votes":{"u1":{"p1":1}}}`, "", http.StatusOK},
		{"list plans", http.MethodGet, "/api/v1/plans", "", "", http.StatusOK},
		{"too many user ids", http.MethodPost, "/api/v1/users", `[` + strings.Repeat(`"u",`, maxUsersPerRequest) + `"u"]`, "", http.StatusBadRequest},
		{"realtime without redis", http.MethodGet, "/api/v1/topic/none/realtime", "", "", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := (&http.Client{Timeout: 3 * time.Second}).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
