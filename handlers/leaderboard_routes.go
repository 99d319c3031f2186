package handlers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"pet-companion-system/middleware"
	"pet-companion-system/services"
)

// LeaderboardHandler serves the token leaderboard and the wallet endpoints.
type LeaderboardHandler struct {
	Leaderboard *services.LeaderboardService
	Ledger      services.TokenLedger
	Bridge      *services.SyncBridge
}

func SetupLeaderboardRoutes(app *fiber.App, h *LeaderboardHandler) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/leaderboard", h.GetLeaderboard)
	secured.Get("/wallet", h.GetWallet)
	secured.Post("/wallet/earn", h.Earn)
	secured.Post("/wallet/spend", h.Spend)
}

func (h *LeaderboardHandler) GetLeaderboard(c *fiber.Ctx) error {
	ident := identity(c)

	entries, err := h.Leaderboard.Top(c.Context(), ident)
	if err != nil {
		log.Printf("❌ Leaderboard build failed for user %s: %v", ident.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to build leaderboard"})
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *LeaderboardHandler) GetWallet(c *fiber.Ctx) error {
	ident := identity(c)

	balance, err := h.Ledger.Balance(ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read balance"})
	}
	return c.JSON(fiber.Map{"balance": balance})
}

type walletRequest struct {
	Amount int64 `json:"amount"`
}

func (h *LeaderboardHandler) Earn(c *fiber.Ctx) error {
	ident := identity(c)

	var req walletRequest
	if err := c.BodyParser(&req); err != nil || req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be positive"})
	}

	balance, err := h.Ledger.Credit(ident.UserID, req.Amount)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credit failed"})
	}

	h.mirrorBalance(ident.UserID, balance)
	return c.JSON(fiber.Map{"balance": balance})
}

func (h *LeaderboardHandler) Spend(c *fiber.Ctx) error {
	ident := identity(c)

	var req walletRequest
	if err := c.BodyParser(&req); err != nil || req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be positive"})
	}

	balance, err := h.Ledger.Debit(ident.UserID, req.Amount)
	if err != nil {
		if errors.Is(err, services.ErrInsufficientTokens) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "debit failed"})
	}

	h.mirrorBalance(ident.UserID, balance)
	return c.JSON(fiber.Map{"balance": balance})
}

// mirrorBalance pushes the new balance to the remote store so other clients'
// boards converge; never a precondition for the wallet operation itself.
func (h *LeaderboardHandler) mirrorBalance(userID string, balance int64) {
	if h.Bridge == nil {
		return
	}
	go func() {
		if err := h.Bridge.PushTokens(context.Background(), userID, balance); err != nil {
			log.Printf("⚠️ Token mirror push failed for user %s: %v", userID, err)
		}
	}()
}
