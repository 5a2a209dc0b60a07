package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/usecase"
)

const (
	defaultTimeout = 3 * time.Second
)

// Client talks to an ornot server. Plans are immutable and cached.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	baseURL   string
	transport http.RoundTripper
}

func New(baseURL string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: "ornot-client",
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		transport: http.DefaultTransport,
	}
	httpClient.Transport = c
	return c
}

// WithTransport replaces the underlying transport, e.g. with an httptest server's.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.transport = rt
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return c.transport.RoundTrip(req)
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code    int
	Message string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Message)
}

func (c *Client) HttpRequest(ctx context.Context, method, path, token string, body, response any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if response == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}

	return nil
}

func (c *Client) SignUp(ctx context.Context, nickname, email string) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	err := c.HttpRequest(ctx, http.MethodPost, "/api/v1/user/signup", "", domain.SignUpRequest{Nickname: nickname, Email: email}, &res)
	return res.ID, err
}

func (c *Client) Verify(ctx context.Context, userID, code string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	path := "/api/v1/user/" + url.PathEscape(userID) + "/code/" + url.PathEscape(code)
	err := c.HttpRequest(ctx, http.MethodGet, path, "", nil, &res)
	return res.Token, err
}

func (c *Client) Check(ctx context.Context, userID, token string) (bool, error) {
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/user/"+url.PathEscape(userID)+"/check", token, nil, nil)
	if se, ok := err.(StatusError); ok && se.Code == http.StatusUnauthorized {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) GetUser(ctx context.Context, userID, token string) (domain.User, error) {
	var user domain.User
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/user/"+url.PathEscape(userID), token, nil, &user)
	return user, err
}

func (c *Client) PutTopic(ctx context.Context, title, description string) (domain.Topic, error) {
	var topic domain.Topic
	err := c.HttpRequest(ctx, http.MethodPut, "/api/v1/topic", "", domain.PartialTopic{Title: title, Description: description}, &topic)
	return topic, err
}

func (c *Client) GetTopic(ctx context.Context, topicID string) (domain.Topic, error) {
	var topic domain.Topic
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/topic/"+url.PathEscape(topicID), "", nil, &topic)
	return topic, err
}

func (c *Client) ListTopics(ctx context.Context) ([]domain.TopicSummary, error) {
	var topics []domain.TopicSummary
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/topics", "", nil, &topics)
	return topics, err
}

func (c *Client) AddVoter(ctx context.Context, topicID, userID, token string) (domain.Topic, error) {
	var topic domain.Topic
	path := "/api/v1/topic/" + url.PathEscape(topicID) + "/user/" + url.PathEscape(userID)
	err := c.HttpRequest(ctx, http.MethodPost, path, token, nil, &topic)
	return topic, err
}

func (c *Client) AddNewPlan(ctx context.Context, topicID string, plan domain.Plan) (domain.Topic, error) {
	var topic domain.Topic
	err := c.HttpRequest(ctx, http.MethodPost, "/api/v1/topic/"+url.PathEscape(topicID)+"/plan", "", plan, &topic)
	if err == nil {
		c.cache.Set("plan:"+plan.ID(), plan, cache.DefaultExpiration)
	}
	return topic, err
}

func (c *Client) Vote(ctx context.Context, topicID, userID, token string, vote domain.Vote) (usecase.VoteOutcome, error) {
	var outcome usecase.VoteOutcome
	path := "/api/v1/topic/" + url.PathEscape(topicID) + "/vote/" + url.PathEscape(userID)
	err := c.HttpRequest(ctx, http.MethodPut, path, token, vote, &outcome)
	return outcome, err
}

func (c *Client) ListPlans(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/plans", "", nil, &ids)
	return ids, err
}

func (c *Client) GetPlan(ctx context.Context, planID string) (domain.Plan, error) {
	cacheKey := "plan:" + planID
	x, found := c.cache.Get(cacheKey)
	if found {
		return x.(domain.Plan), nil
	}

	var plan domain.Plan
	err := c.HttpRequest(ctx, http.MethodGet, "/api/v1/plan/"+url.PathEscape(planID), "", nil, &plan)
	if err != nil {
		return domain.Plan{}, err
	}

	c.cache.Set(cacheKey, plan, cache.DefaultExpiration)
	return plan, nil
}
