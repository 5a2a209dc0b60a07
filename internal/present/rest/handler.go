package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/present/rest/middleware"
	"github.com/yasushisakai/ornot-server/internal/present/rest/presenter"
	"github.com/yasushisakai/ornot-server/internal/usecase"
)

// Subscriber streams topic events. It is optional; without it the realtime route answers 501.
type Subscriber interface {
	Realtime(ctx context.Context, topicID string, output chan<- domain.TopicEvent)
}

const maxUsersPerRequest = 100

type Handler struct {
	identity  *usecase.IdentityUsecase
	topic     *usecase.TopicUsecase
	plan      *usecase.PlanUsecase
	setting   *usecase.SettingUsecase
	reconcile *usecase.ReconcileUsecase
	auth      *middleware.AuthMiddleware
	signal    Subscriber
}

func NewHandler(
	identity *usecase.IdentityUsecase,
	topic *usecase.TopicUsecase,
	plan *usecase.PlanUsecase,
	setting *usecase.SettingUsecase,
	reconcile *usecase.ReconcileUsecase,
	auth *middleware.AuthMiddleware,
	signal Subscriber,
) *Handler {
	return &Handler{
		identity:  identity,
		topic:     topic,
		plan:      plan,
		setting:   setting,
		reconcile: reconcile,
		auth:      auth,
		signal:    signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.POST("/user/signup", h.handleSignUp)
	api.GET("/user/:userId/code/:code", h.handleVerify)
	api.GET("/user/:userId/check", h.handleCheck)
	api.GET("/user/:userId", h.handleGetUser, h.auth.RequireUser)
	api.DELETE("/user/:userId", h.handleDeleteUser)
	api.POST("/users", h.handleGetUsers)

	api.PUT("/topic", h.handlePutTopic)
	api.GET("/topics", h.handleListTopics)
	api.GET("/topic/:topicId", h.handleGetTopic)
	api.DELETE("/topic/:topicId", h.handleDeleteTopic)
	api.POST("/topic/:topicId/plan", h.handleAddNewPlan)
	api.POST("/topic/:topicId/plan/:planId", h.handleAddPlan)
	api.DELETE("/topic/:topicId/plan/:planId", h.handleRemovePlan)
	api.PUT("/topic/:topicId/vote/:userId", h.handleVote, h.auth.RequireUser)
	api.POST("/topic/:topicId/user/:userId", h.handleAddVoter, h.auth.RequireUser)
	api.DELETE("/topic/:topicId/user/:userId", h.handleRemoveVoter, h.auth.RequireUser)
	api.GET("/topic/:topicId/realtime", h.handleRealtime)

	api.PUT("/plan", h.handlePutPlan)
	api.GET("/plans", h.handleListPlans)
	api.GET("/plan/:planId", h.handleGetPlan)

	api.GET("/setting/:hash", h.handleGetSetting)
	api.POST("/setting/calculate", h.handleCalculate)

	api.POST("/admin/reconcile", h.handleReconcile, h.auth.RequireAdmin)
}

func (h *Handler) handleSignUp(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.SignUpRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	userID, err := h.identity.SignUp(ctx, req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"id": userID, "status": "pending"})
}

func (h *Handler) handleVerify(c echo.Context) error {
	ctx := c.Request().Context()

	token, err := h.identity.VerifyTempCode(ctx, c.Param("userId"), c.Param("code"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"id": c.Param("userId"), "token": token})
}

func (h *Handler) handleCheck(c echo.Context) error {
	ctx := c.Request().Context()

	if !h.identity.CheckAuth(ctx, c.Param("userId"), c.Request().Header) {
		return presenter.Unauthorized(c)
	}
	return presenter.OK(c, echo.Map{"id": c.Param("userId"), "authorized": true})
}

// requester is the user authenticated by RequireUser for this request.
func requester(c echo.Context) (string, error) {
	userID, ok := middleware.RequesterID(c.Request().Context())
	if !ok {
		return "", domain.ErrUnauthorized
	}
	return userID, nil
}

func (h *Handler) handleGetUser(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := requester(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	user, err := h.identity.Get(ctx, userID)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}

func (h *Handler) handleDeleteUser(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.identity.Delete(ctx, c.Param("userId"), c.Request().Header)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleGetUsers(c echo.Context) error {
	ctx := c.Request().Context()

	var ids []string
	if err := c.Bind(&ids); err != nil {
		return presenter.BadRequest(c, err)
	}
	if len(ids) > maxUsersPerRequest {
		return presenter.BadRequestMessage(c, fmt.Sprintf("at most %d user ids per request", maxUsersPerRequest))
	}

	users, err := h.identity.GetMany(ctx, ids)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, users)
}

func (h *Handler) handlePutTopic(c echo.Context) error {
	ctx := c.Request().Context()

	var partial domain.PartialTopic
	if err := c.Bind(&partial); err != nil {
		return presenter.BadRequest(c, err)
	}

	topic, err := h.topic.Put(ctx, partial)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleListTopics(c echo.Context) error {
	ctx := c.Request().Context()

	topics, err := h.topic.List(ctx)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topics)
}

func (h *Handler) handleGetTopic(c echo.Context) error {
	ctx := c.Request().Context()

	topic, err := h.topic.Get(ctx, c.Param("topicId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleDeleteTopic(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.topic.Delete(ctx, c.Param("topicId")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleAddNewPlan(c echo.Context) error {
	ctx := c.Request().Context()

	plan, err := bindPlan(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	topic, err := h.topic.AddNewPlan(ctx, c.Param("topicId"), plan)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleAddPlan(c echo.Context) error {
	ctx := c.Request().Context()

	topic, err := h.topic.AddPlan(ctx, c.Param("topicId"), c.Param("planId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleRemovePlan(c echo.Context) error {
	ctx := c.Request().Context()

	topic, err := h.topic.RemovePlan(ctx, c.Param("topicId"), c.Param("planId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleVote(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := requester(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	var vote domain.Vote
	if err := c.Bind(&vote); err != nil {
		return presenter.BadRequest(c, err)
	}

	outcome, err := h.topic.InsertVote(ctx, c.Param("topicId"), userID, vote)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, outcome)
}

func (h *Handler) handleAddVoter(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := requester(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	topic, err := h.topic.AddVoter(ctx, c.Param("topicId"), userID)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func (h *Handler) handleRemoveVoter(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := requester(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	topic, err := h.topic.RemoveVoter(ctx, c.Param("topicId"), userID)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, topic)
}

func bindPlan(c echo.Context) (domain.Plan, error) {
	var plan domain.Plan
	if err := c.Bind(&plan); err != nil {
		return domain.Plan{}, domain.ValidationError{Field: "plan", Reason: err.Error()}
	}
	return domain.NewPlan(plan.Body)
}

func (h *Handler) handlePutPlan(c echo.Context) error {
	ctx := c.Request().Context()

	plan, err := bindPlan(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	plan, err = h.plan.Put(ctx, plan)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, plan)
}

func (h *Handler) handleListPlans(c echo.Context) error {
	ctx := c.Request().Context()

	ids, err := h.plan.List(ctx)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, ids)
}

func (h *Handler) handleGetPlan(c echo.Context) error {
	ctx := c.Request().Context()

	plan, err := h.plan.Get(ctx, c.Param("planId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, plan)
}

func (h *Handler) handleGetSetting(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.setting.Get(ctx, c.Param("hash"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshot)
}

func (h *Handler) handleCalculate(c echo.Context) error {
	ctx := c.Request().Context()

	var setting domain.Setting
	if err := c.Bind(&setting); err != nil {
		return presenter.BadRequest(c, err)
	}
	for _, vote := range setting.Votes {
		if err := vote.Validate(); err != nil {
			return presenter.Error(c, err)
		}
	}

	snapshot, err := h.setting.Calculate(ctx, setting)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshot)
}

func (h *Handler) handleReconcile(c echo.Context) error {
	ctx := c.Request().Context()

	reports, err := h.reconcile.Run(ctx)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, reports)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Request struct {
	Type string `json:"type"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	if h.signal == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "realtime requires the redis driver"})
	}

	topicID := c.Param("topicId")
	topic, err := h.topic.Get(c.Request().Context(), topicID)
	if err != nil {
		return presenter.Error(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	output := make(chan domain.TopicEvent)
	go h.signal.Realtime(ctx, topicID, output)

	err = ws.WriteJSON(domain.TopicEvent{
		Type:        domain.TopicEventUpdated,
		TopicID:     topic.TopicID,
		SettingHash: topic.SettingHash,
		Result:      topic.Result,
	})
	if err != nil {
		return nil
	}

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
