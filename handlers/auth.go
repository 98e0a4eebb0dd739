package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/padraicbc/gridpicks/apperr"
	mw "github.com/padraicbc/gridpicks/middleware"
	"github.com/padraicbc/gridpicks/models"
	"github.com/padraicbc/gridpicks/scoring"
)

type credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createUserRequest struct {
	Username string      `json:"username" validate:"required,max=64"`
	Password string      `json:"password" validate:"required,min=8"`
	Nickname string      `json:"nickname" validate:"max=64"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=admin standard"`
}

// HashPasswordForUser validates username/password input and returns a bcrypt hash for storage.
func HashPasswordForUser(username, password string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is required")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hashedPassword), nil
}

// Signin validates credentials and returns a JWT token valid for 30 days.
func (h *Handler) Signin(c echo.Context) error {
	var creds credentials
	if err := bind(c, &creds); err != nil {
		return err
	}
	creds.Username = strings.TrimSpace(creds.Username)

	p, err := h.store.ProfileByUsername(c.Request().Context(), creds.Username)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return echo.NewHTTPError(http.StatusBadRequest, "incorrect username or password")
		}
		return h.httpError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.Password), []byte(creds.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	token, err := mw.NewToken(p, h.JWTKey, tokenTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{"token": token, "profile": p})
}

// CreateUser registers a profile with a hashed password. Admin only.
func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Username = strings.TrimSpace(req.Username)

	hash, err := HashPasswordForUser(req.Username, req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Role == "" {
		req.Role = models.RoleStandard
	}

	now := time.Now().UTC()
	p := &models.Profile{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Password:  hash,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nick := strings.TrimSpace(req.Nickname); nick != "" {
		p.Nickname = &nick
	}
	ctx := c.Request().Context()
	if err := h.store.InsertProfile(ctx, p); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return echo.NewHTTPError(http.StatusConflict, errorBody{Code: string(apperr.KindConflict), Message: "username already taken"})
		}
		return h.httpError(err)
	}
	// new players appear on the global leaderboard with zero points
	h.svc.Leaderboard.Invalidate(ctx)
	h.log.Info("profile created", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
	return c.JSON(http.StatusCreated, p)
}

type meResponse struct {
	Profile  *models.Profile       `json:"profile"`
	Standing *scoring.UserStanding `json:"standing"`
	Current  *models.GrandPrix     `json:"current,omitempty"`
}

// Me returns the caller's profile, global standing and the active Grand Prix.
func (h *Handler) Me(c echo.Context) error {
	who := mw.Identity(c)
	var out meResponse

	g, ctx := errgroup.WithContext(c.Request().Context())
	g.Go(func() error {
		p, err := h.store.ProfileByID(ctx, who.UserID)
		out.Profile = p
		return err
	})
	g.Go(func() error {
		st, err := h.svc.Leaderboard.Standing(ctx, who.UserID)
		out.Standing = st
		return err
	})
	g.Go(func() error {
		active, err := h.svc.Lifecycle.ListGrandPrix(ctx, models.StatusActive)
		if len(active) > 0 {
			out.Current = &active[0]
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return h.httpError(err)
	}

	return c.JSON(http.StatusOK, out)
}
