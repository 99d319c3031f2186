package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"pet-companion-system/middleware"
	"pet-companion-system/models"
	"pet-companion-system/services"
)

// PetHandler serves the pet lifecycle: adopt, feed, release, vitality reads,
// plus the cosmetic background and presence status endpoints.
type PetHandler struct {
	Pets     *services.PetService
	Vitality *services.VitalityService
	Ledger   services.TokenLedger
	Bridge   *services.SyncBridge
}

func SetupPetRoutes(app *fiber.App, h *PetHandler) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/pet", h.GetPet)
	secured.Post("/pet/adopt", h.Adopt)
	secured.Post("/pet/feed", h.Feed)
	secured.Post("/pet/release", h.Release)

	secured.Get("/user/background", h.GetBackground)
	secured.Put("/user/background", h.SetBackground)
	secured.Post("/user/status", h.SetStatus)
	secured.Post("/user/sync", h.ColdStartSync)
}

func identity(c *fiber.Ctx) services.Identity {
	return services.Identity{
		UserID:      c.Locals("user_id").(string),
		DisplayName: c.Locals("user_name").(string),
	}
}

// GetPet returns the record, the freshly reconciled vitality and the derived
// mood in one payload. Loading reconciles elapsed wall-clock time, so this is
// also what a returning client calls first. Users without a pet get no
// vitality session; there is nothing to decay.
func (h *PetHandler) GetPet(c *fiber.Ctx) error {
	ident := identity(c)

	rec, err := h.Pets.Record(c.Context(), ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load pet data"})
	}
	if !rec.HasPet {
		return c.JSON(fiber.Map{
			"pet":      rec,
			"vitality": nil,
			"mood":     "inactive",
		})
	}

	state, err := h.Vitality.Load(c.Context(), ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load vitality"})
	}

	// The inactive transition may have just cleared the record.
	rec, err = h.Pets.Record(c.Context(), ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load pet data"})
	}

	return c.JSON(fiber.Map{
		"pet":      rec,
		"vitality": state,
		"mood":     services.Mood(rec, state),
	})
}

type adoptRequest struct {
	PetType int    `json:"petType"`
	PetName string `json:"petName"`
	Price   int64  `json:"price"`
}

func (h *PetHandler) Adopt(c *fiber.Ctx) error {
	ident := identity(c)

	var req adoptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Price < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "price must not be negative"})
	}

	rec, err := h.Pets.Adopt(c.Context(), ident.UserID, models.PetType(req.PetType), req.PetName, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidPetType),
			errors.Is(err, models.ErrPetNameRequired),
			errors.Is(err, models.ErrPetNameTooLong):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrInsufficientTokens):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("❌ Adoption failed for user %s: %v", ident.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "adoption failed"})
		}
	}

	state, _ := h.Vitality.State(c.Context(), ident.UserID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"pet": rec, "vitality": state})
}

func (h *PetHandler) Feed(c *fiber.Ctx) error {
	ident := identity(c)

	state, err := h.Pets.Feed(c.Context(), ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPetInactive):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "pet is inactive and cannot be fed"})
		case errors.Is(err, services.ErrInsufficientTokens):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "feed failed"})
		}
	}
	return c.JSON(fiber.Map{"vitality": state})
}

func (h *PetHandler) Release(c *fiber.Ctx) error {
	ident := identity(c)

	if err := h.Pets.Release(c.Context(), ident.UserID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "release failed"})
	}
	h.Vitality.Drop(ident.UserID)
	return c.JSON(fiber.Map{"released": true})
}

func (h *PetHandler) GetBackground(c *fiber.Ctx) error {
	ident := identity(c)

	background, found, err := h.Bridge.Background(c.Context(), ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load background"})
	}
	if !found {
		return c.JSON(fiber.Map{"background": nil})
	}
	return c.JSON(fiber.Map{"background": background})
}

type backgroundRequest struct {
	Background string `json:"background"`
}

func (h *PetHandler) SetBackground(c *fiber.Ctx) error {
	ident := identity(c)

	var req backgroundRequest
	if err := c.BodyParser(&req); err != nil || req.Background == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "background is required"})
	}

	if err := h.Bridge.SetBackground(c.Context(), ident.UserID, req.Background); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save background"})
	}
	return c.JSON(fiber.Map{"background": req.Background})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *PetHandler) SetStatus(c *fiber.Ctx) error {
	ident := identity(c)

	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Status != "online" && req.Status != "offline" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status must be online or offline"})
	}

	if err := h.Bridge.UpdateStatus(c.Context(), ident.UserID, req.Status); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to update status"})
	}
	return c.JSON(fiber.Map{"status": req.Status})
}

// ColdStartSync seeds or merges the caller's remote user document and runs
// the one-time background reconciliation.
func (h *PetHandler) ColdStartSync(c *fiber.Ctx) error {
	ident := identity(c)

	tokens, err := h.Ledger.Balance(ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read token balance"})
	}

	if err := h.Bridge.SyncUserOnColdStart(c.Context(), ident, tokens); err != nil {
		log.Printf("❌ Cold-start sync failed for user %s: %v", ident.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "sync with remote store failed"})
	}
	return c.JSON(fiber.Map{"synced": true})
}
