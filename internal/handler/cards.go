package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/service"
	"github.com/Dan9191/bankcards/internal/statement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createCardRequest struct {
	OwnerID        uuid.UUID        `json:"owner_id"`
	OwnerName      string           `json:"owner_name"`
	ExpirationDate models.YearMonth `json:"expiration_date"`
	InitialBalance decimal.Decimal  `json:"initial_balance"`
}

// CreateCard handles card creation (admin)
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if !h.decode(w, r, &req, models.ErrInvalidCard) {
		return
	}
	card, err := h.cards.Create(r.Context(), caller(r), models.NewCardRequest{
		OwnerID:        req.OwnerID,
		OwnerName:      req.OwnerName,
		ExpirationDate: req.ExpirationDate,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

type updateCardRequest struct {
	OwnerName      *string           `json:"owner_name"`
	ExpirationDate *models.YearMonth `json:"expiration_date"`
}

// UpdateCard handles metadata edits (admin)
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req updateCardRequest
	if !h.decode(w, r, &req, models.ErrInvalidCard) {
		return
	}
	card, err := h.cards.UpdateMetadata(r.Context(), caller(r), id, models.CardUpdate{
		OwnerName:      req.OwnerName,
		ExpirationDate: req.ExpirationDate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// DeleteCard handles card removal (admin)
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cards.Delete(r.Context(), caller(r), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockCard handles blocking (admin)
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.cards.Block)
}

// ActivateCard handles re-activation (admin)
func (h *Handler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.cards.Activate)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, c models.Caller, id uuid.UUID) (*models.CardView, error)) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	card, err := fn(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

type pageResponse struct {
	Cards []models.CardView `json:"cards"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

// ListAllCards handles the admin listing of every card
func (h *Handler) ListAllCards(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	cards, err := h.cards.ListAll(r.Context(), caller(r), page)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, pageResponse{Cards: cards, Page: page.Number, Size: page.Size})
}

// ListCards lists the caller's cards; admins may pass owner_id to list another owner's
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	c := caller(r)
	ownerID := c.ID
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		if ownerID, err = uuid.Parse(raw); err != nil {
			h.writeError(w, fmt.Errorf("owner id %q: %w", raw, models.ErrInvalidCard))
			return
		}
	}
	cards, err := h.cards.ListByOwner(r.Context(), c, ownerID, page)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, pageResponse{Cards: cards, Page: page.Number, Size: page.Size})
}

func pageParams(r *http.Request) (models.Page, error) {
	var page models.Page
	q := r.URL.Query()
	for key, dst := range map[string]*int{"page": &page.Number, "size": &page.Size} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, fmt.Errorf("%s %q: %w", key, raw, models.ErrInvalidCard)
		}
		*dst = n
	}
	return page, nil
}

// GetCard returns one masked card
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	card, err := h.cards.Get(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// GetBalance returns a card balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	balance, err := h.cards.GetBalance(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_id": id, "balance": balance})
}

// ListTransfers returns the card's ledger entries
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	records, err := h.transfers.ListByCard(r.Context(), caller(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetStatement renders the card's ledger as XML
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	c := caller(r)
	card, err := h.cards.Get(r.Context(), c, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	records, err := h.transfers.ListByCard(r.Context(), c, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, err := statement.Render(*card, records, h.now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

type transferRequest struct {
	SourceCardID      uuid.UUID       `json:"source_card_id"`
	DestinationCardID uuid.UUID       `json:"destination_card_id"`
	Amount            decimal.Decimal `json:"amount"`
}

// Transfer moves funds between two cards
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req, models.ErrInvalidAmount) {
		return
	}
	rec, err := h.transfers.Transfer(r.Context(), caller(r), service.TransferRequest{
		Source:      req.SourceCardID,
		Destination: req.DestinationCardID,
		Amount:      req.Amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
