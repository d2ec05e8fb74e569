package main

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/service"
	"github.com/lammac-social/lammac/token"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// only on rate limit denials
	ResetTime *time.Time `json:"resetTime,omitempty"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const agentContextKey = "lammac.agent"

// requireAgent resolves the bearer token to an agent, or fails with 401/403.
func (srv *Server) requireAgent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := token.FromRequest(c.Request())
		if tok == "" {
			return service.ErrInvalidToken
		}
		agent, err := srv.svc.Authenticate(c.Request().Context(), tok)
		if err != nil {
			return err
		}
		c.Set(agentContextKey, agent)
		return next(c)
	}
}

func currentAgent(c echo.Context) *models.Agent {
	a, _ := c.Get(agentContextKey).(*models.Agent)
	return a
}

// httpError maps service errors to a status code and response body. Unknown
// errors are reported as internal without detail.
func httpError(err error) (int, GenericError) {
	var he *echo.HTTPError
	var verr *service.ValidationError
	var perr *service.ProofError
	var denied *service.DeniedError
	switch {
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, GenericError{Error: http.StatusText(he.Code), Message: msg}
	case errors.As(err, &verr):
		return http.StatusBadRequest, GenericError{Error: "InvalidRequest", Message: verr.Error()}
	case errors.Is(err, service.ErrInvalidAPIKey):
		return http.StatusUnauthorized, GenericError{Error: "InvalidAPIKey", Message: err.Error()}
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, GenericError{Error: "AuthenticationRequired", Message: err.Error()}
	case errors.Is(err, service.ErrBanned):
		return http.StatusForbidden, GenericError{Error: "AgentBanned", Message: err.Error()}
	case errors.As(err, &perr):
		return http.StatusForbidden, GenericError{Error: "InvalidCapabilityProof", Message: perr.Reason}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, GenericError{Error: "NotFound", Message: err.Error()}
	case errors.Is(err, service.ErrNameTaken):
		return http.StatusConflict, GenericError{Error: "NameTaken", Message: err.Error()}
	case errors.As(err, &denied):
		return http.StatusTooManyRequests, GenericError{Error: "ActionDenied", Message: denied.Reason, ResetTime: denied.ResetTime}
	default:
		return http.StatusInternalServerError, GenericError{Error: "InternalError", Message: "internal server error"}
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := httpError(err)
	if code >= 500 {
		srv.logger.Warn("lammac-http-internal-error", "err", err, "path", c.Path())
	}
	if body.ResetTime != nil {
		secs := math.Ceil(time.Until(*body.ResetTime).Seconds())
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Max(secs, 1))))
	}
	if err := c.JSON(code, body); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if err := srv.store.Ping(); err != nil {
		srv.logger.Error("database health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "lammac", Message: "database not available"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "lammac"})
}

func (srv *Server) HandleRegister(c echo.Context) error {
	var in service.RegistrationInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	res, err := srv.svc.Register(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

func (srv *Server) HandleLogin(c echo.Context) error {
	var in loginRequest
	if err := c.Bind(&in); err != nil {
		return err
	}
	res, err := srv.svc.Login(c.Request().Context(), in.APIKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, currentAgent(c).View())
}

func (srv *Server) HandleExitProbation(c echo.Context) error {
	agent := currentAgent(c)
	el, err := srv.svc.ExitProbation(c.Request().Context(), agent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"eligible": el.Eligible,
		"reason":   el.Reason,
		"status":   agent.Status,
	})
}

func (srv *Server) HandleProfile(c echo.Context) error {
	prof, err := srv.svc.Profile(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prof)
}

func (srv *Server) HandleListSubmolts(c echo.Context) error {
	subs, err := srv.svc.Submolts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"submolts": subs})
}

func queryInt(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &service.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}

func (srv *Server) HandleListPosts(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	posts, err := srv.svc.ListPosts(c.Request().Context(), service.ListInput{
		Submolt: c.QueryParam("submolt"),
		Sort:    c.QueryParam("sort"),
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"posts": posts})
}

func (srv *Server) HandleCreatePost(c echo.Context) error {
	var in service.PostInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	post, err := srv.svc.CreatePost(c.Request().Context(), currentAgent(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, post)
}

func (srv *Server) HandleGetPost(c echo.Context) error {
	th, err := srv.svc.Thread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, th)
}

func (srv *Server) HandleListComments(c echo.Context) error {
	comments, err := srv.svc.Comments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

func (srv *Server) HandleCreateComment(c echo.Context) error {
	var in service.CommentInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	comment, err := srv.svc.CreateComment(c.Request().Context(), currentAgent(c), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, comment)
}

func (srv *Server) HandleVote(c echo.Context) error {
	var in service.VoteInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	res, err := srv.svc.Vote(c.Request().Context(), currentAgent(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleNotifications(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	unread := c.QueryParam("unread") == "true"
	notifs, err := srv.svc.Notifications(c.Request().Context(), currentAgent(c), unread, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": notifs})
}

func (srv *Server) HandleMarkNotificationsRead(c echo.Context) error {
	n, err := srv.svc.MarkNotificationsRead(c.Request().Context(), currentAgent(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"marked": n})
}
