package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

var (
	errInvalidThreshold = errors.New("daysBefore and hoursBefore must not be negative")
	errInvalidMethod    = errors.New("unknown notification method")
)

// getMe returns the signed-in user. On first login the record is created
// from the email and name claims of the token.
func (s *Server) getMe(c echo.Context) error {
	ctx := c.Request().Context()
	who := identity(c)
	u, err := s.store.GetUser(ctx, who.UserID)
	if err != nil {
		return storageFailure(c, err)
	}
	if u == nil {
		u = &domain.User{
			ID:                   who.UserID,
			Email:                who.Email,
			DisplayName:          who.Name,
			NotificationSettings: domain.DefaultNotificationSettings(),
		}
		if err := s.store.UpsertUser(ctx, *u); err != nil {
			return storageFailure(c, err)
		}
		s.log.WithField("user", who.UserID).Info("user.created")
	}
	return c.JSON(http.StatusOK, u)
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// postMe registers the profile of the signed-in user. Existing notification
// settings are kept.
func (s *Server) postMe(c echo.Context) error {
	var req registerRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	ctx := c.Request().Context()
	id := userID(c)
	existing, err := s.store.GetUser(ctx, id)
	if err != nil {
		return storageFailure(c, err)
	}
	u := domain.User{
		ID:                   id,
		Email:                strings.TrimSpace(req.Email),
		DisplayName:          strings.TrimSpace(req.DisplayName),
		PhotoURL:             req.PhotoURL,
		NotificationSettings: domain.DefaultNotificationSettings(),
	}
	if existing != nil {
		u.NotificationSettings = existing.NotificationSettings
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) putNotificationSettings(c echo.Context) error {
	var settings domain.NotificationSettings
	if err := decodeBody(c, &settings); err != nil {
		return badRequest(c, err)
	}
	if settings.DaysBefore < 0 || settings.HoursBefore < 0 {
		return badRequest(c, errInvalidThreshold)
	}
	for _, m := range settings.Methods {
		if !m.Valid() {
			return badRequest(c, errInvalidMethod)
		}
	}
	if err := s.store.UpdateNotificationSettings(c.Request().Context(), userID(c), settings); err != nil {
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

// postLogout only records the event; tokens are discarded by the client.
func (s *Server) postLogout(c echo.Context) error {
	s.log.WithField("user", userID(c)).Info("user.logout")
	return c.NoContent(http.StatusNoContent)
}
