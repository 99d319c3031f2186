package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"pet-companion-system/middleware"
	"pet-companion-system/models"
	"pet-companion-system/services"
)

// GroupHandler serves the study-group workflow: create, invite, accept,
// decline, leave, and the live member roster stream.
type GroupHandler struct {
	Groups    *services.GroupService
	Directory *services.UserDirectory
}

func SetupGroupRoutes(app *fiber.App, h *GroupHandler) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/groups", h.CreateGroup)
	secured.Get("/groups", h.MyGroups)
	secured.Get("/groups/:id", h.GetGroup)
	secured.Post("/groups/:id/invites", h.SendInvites)
	secured.Post("/groups/:id/leave", h.LeaveGroup)
	secured.Get("/groups/:id/members", h.Members)
	secured.Get("/groups/:id/members/stream", h.StreamMembers)

	secured.Get("/invites", h.PendingInvites)
	secured.Post("/invites/:id/accept", h.AcceptInvite)
	secured.Post("/invites/:id/decline", h.DeclineInvite)

	secured.Get("/users/search", h.SearchUsers)
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	ident := identity(c)

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	group, err := h.Groups.CreateGroup(c.Context(), ident, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrGroupNameEmpty):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyInGroup):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("❌ Group creation failed for user %s: %v", ident.UserID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to create group"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

func (h *GroupHandler) MyGroups(c *fiber.Ctx) error {
	ident := identity(c)

	groups, err := h.Groups.GroupsForUser(c.Context(), ident.UserID, c.QueryBool("refresh"))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to load groups"})
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (h *GroupHandler) GetGroup(c *fiber.Ctx) error {
	group, err := h.Groups.Group(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrGroupNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "group not found"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to load group"})
	}
	return c.JSON(group)
}

type sendInvitesRequest struct {
	InviteeIDs []string `json:"inviteeIds"`
}

// SendInvites fans out invites one by one; the response always reports the
// three-way outcome with per-invitee failures, never a silent partial drop.
func (h *GroupHandler) SendInvites(c *fiber.Ctx) error {
	ident := identity(c)

	var req sendInvitesRequest
	if err := c.BodyParser(&req); err != nil || len(req.InviteeIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "inviteeIds is required"})
	}

	result := h.Groups.SendInvites(c.Context(), ident, c.Params("id"), req.InviteeIDs)

	status := fiber.StatusOK
	if result.Outcome() == services.BatchAllFailed {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{
		"outcome": result.Outcome(),
		"sent":    result.Sent,
		"failed":  result.Failed,
	})
}

func (h *GroupHandler) PendingInvites(c *fiber.Ctx) error {
	ident := identity(c)

	invites, err := h.Groups.PendingInvites(c.Context(), ident.UserID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to load invites"})
	}
	return c.JSON(fiber.Map{"invites": invites})
}

func (h *GroupHandler) AcceptInvite(c *fiber.Ctx) error {
	ident := identity(c)

	group, err := h.Groups.AcceptInvite(c.Context(), ident, c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInviteNotFound), errors.Is(err, services.ErrGroupNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrNotInvitee):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrInviteNotPending), errors.Is(err, services.ErrAlreadyInGroup):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			log.Printf("❌ Invite accept failed for user %s: %v", ident.UserID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to accept invite"})
		}
	}
	return c.JSON(group)
}

func (h *GroupHandler) DeclineInvite(c *fiber.Ctx) error {
	ident := identity(c)

	if err := h.Groups.DeclineInvite(c.Context(), ident, c.Params("id")); err != nil {
		switch {
		case errors.Is(err, services.ErrInviteNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrNotInvitee):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrInviteNotPending):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to decline invite"})
		}
	}
	return c.JSON(fiber.Map{"declined": true})
}

func (h *GroupHandler) LeaveGroup(c *fiber.Ctx) error {
	ident := identity(c)

	result, err := h.Groups.LeaveGroup(c.Context(), ident, c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrGroupNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrNotGroupMember):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to leave group"})
		}
	}
	return c.JSON(result)
}

func (h *GroupHandler) Members(c *fiber.Ctx) error {
	roster, err := h.Groups.Roster(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrGroupNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "group not found"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to load members"})
	}
	return c.JSON(fiber.Map{"members": roster})
}

// StreamMembers streams roster updates over SSE until the client disconnects.
func (h *GroupHandler) StreamMembers(c *fiber.Ctx) error {
	groupID := c.Params("id")

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	updates := make(chan []models.MemberProfile, 8)
	unsubscribe, err := h.Groups.SubscribeMembers(c.Context(), groupID, func(roster []models.MemberProfile) {
		select {
		case updates <- roster:
		default:
			// Slow consumer; the next update supersedes this one anyway.
		}
	})
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to subscribe"})
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case roster := <-updates:
				payload, _ := json.Marshal(roster)
				fmt.Fprintf(w, "event: members\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}

func (h *GroupHandler) SearchUsers(c *fiber.Ctx) error {
	ident := identity(c)

	users, err := h.Directory.Search(c.Query("q"), ident.UserID, c.QueryInt("limit"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user search failed"})
	}
	return c.JSON(fiber.Map{"users": users})
}
