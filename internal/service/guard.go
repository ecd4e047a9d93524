package service

import (
	"fmt"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/sirupsen/logrus"
)

// Guard decides whether a caller may act on a card. It never mutates state.
type Guard struct {
	log *logrus.Logger
}

func NewGuard(log *logrus.Logger) *Guard {
	return &Guard{log: log}
}

// Authorize permits admins on any card and users on cards they own.
// Every admin access to someone else's card is logged as an override.
func (g *Guard) Authorize(caller models.Caller, card *models.Card) error {
	switch caller.Role {
	case models.RoleAdmin:
		if card.OwnerID != caller.ID {
			g.log.WithFields(logrus.Fields{
				"caller_id": caller.ID,
				"card_id":   card.ID,
				"owner_id":  card.OwnerID,
			}).Info("Admin override on card access")
		}
		return nil
	case models.RoleUser:
		if card.OwnerID == caller.ID {
			return nil
		}
	}

	g.log.Warnf("Access to card %s denied for caller %s", card.ID, caller.ID)
	return fmt.Errorf("card %s: %w", card.ID, models.ErrAccessDenied)
}

// RequireAdmin guards the administrative registry operations.
func (g *Guard) RequireAdmin(caller models.Caller) error {
	if caller.IsAdmin() {
		return nil
	}
	g.log.Warnf("Caller %s with role %q attempted an admin operation", caller.ID, caller.Role)
	return fmt.Errorf("admin role required: %w", models.ErrAccessDenied)
}
