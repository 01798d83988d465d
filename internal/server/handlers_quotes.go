package server

import (
	"context"
	"net/http"
	"net/mail"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
)

type quoteItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type quoteRequest struct {
	Email   string             `json:"email"`
	Phone   string             `json:"phone"`
	Company string             `json:"company"`
	Message string             `json:"message"`
	Items   []quoteItemRequest `json:"items"`
	// Website is the honeypot field. The form hides it; humans leave it
	// empty.
	Website    string            `json:"website"`
	RenderedAt int64             `json:"rendered_at"`
	Extra      map[string]string `json:"extra"`
}

type quoteResponse struct {
	Status string `json:"status"`
}

// handleQuote is the only unauthenticated write endpoint. Validation
// failures are 422s and never audited; gate rejections share one neutral
// message so submitters learn nothing about the rules.
func (s *Server) handleQuote(c echo.Context) error {
	var req quoteRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Email == "" {
		return validationError(c, "email is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return validationError(c, "invalid email address")
	}
	if len(req.Items) == 0 && req.Message == "" {
		return validationError(c, "at least one item or a message is required")
	}

	items := make([]quotegate.Item, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return validationError(c, "item quantity must be positive")
		}
		items[i] = quotegate.Item{SKU: item.SKU, Quantity: item.Quantity}
	}

	var renderedAt time.Time
	if req.RenderedAt > 0 {
		renderedAt = time.Unix(req.RenderedAt, 0)
	}

	sub := &quotegate.Submission{
		Email:      req.Email,
		Phone:      req.Phone,
		Company:    req.Company,
		Message:    req.Message,
		Items:      items,
		Website:    req.Website,
		RenderedAt: renderedAt,
		ClientIP:   c.RealIP(),
		Extra:      req.Extra,
	}

	ctx := c.Request().Context()
	if err := s.gate.Check(ctx, sub); err != nil {
		return writeError(c, err)
	}

	quoteID, err := s.quotes.Save(ctx, sub)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("quote persist failed", "err", err)
		}
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
	}

	// Notification is decoupled from acceptance.
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.notifier.NotifyQuote(notifyCtx, quoteID, sub)
	}()

	return c.JSON(http.StatusAccepted, quoteResponse{Status: "received"})
}
