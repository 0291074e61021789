package handlers

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/mail-ticket-service/internal/api/dto"
	"github.com/spec-kit/mail-ticket-service/internal/auth"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	apperrors "github.com/spec-kit/mail-ticket-service/pkg/util/errorutil"
)

// UserResolver maps a sender address to a user id.
type UserResolver interface {
	ResolveByEmail(ctx context.Context, email string) (string, bool, error)
}

// TicketsHandler exposes lifecycle operations.
type TicketsHandler struct {
	service  *service.TicketService
	users    UserResolver
	validate *validator.Validate
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, users UserResolver) *TicketsHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &TicketsHandler{service: ticketService, users: users, validate: v}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ordererID := strings.TrimSpace(req.OrdererID)
	from := strings.ToLower(strings.TrimSpace(req.From))
	if ordererID == "" && from != "" {
		id, ok, err := h.users.ResolveByEmail(c.UserContext(), from)
		if err != nil {
			return apperrors.NewStoreUnavailable(err)
		}
		if !ok {
			return apperrors.NewValidationError("unknown sender", map[string]any{"from": from})
		}
		ordererID = id
	}
	if ordererID == "" && !principal.IsStaff() {
		ordererID = principal.SubjectID
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), service.CreateTicketInput{
		Subject:      req.Subject,
		Message:      req.Message,
		Quote:        req.Quote,
		CategoryID:   req.Category,
		FunctionID:   req.FunctionID,
		Priority:     req.Priority,
		OrdererID:    ordererID,
		OrdererEmail: from,
		ExpiredAt:    req.ExpiredAt,
		ActorID:      principal.ActorID(),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	if _, err := requirePrincipal(c); err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	ticket, err := h.service.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := h.service.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	history, err := h.service.ListHistory(ctx, id)
	if err != nil {
		return err
	}
	assignments, err := h.service.ListAssignments(ctx, id)
	if err != nil {
		return err
	}
	feedback, err := h.service.GetFeedback(ctx, id)
	if err != nil && !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, msgs, history, assignments, feedback)})
}

// Transition POST /tickets/:id/transition.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Transition(c.UserContext(), id, req.Status, principal.ActorID())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Assign POST /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	assignment, err := h.service.Assign(c.UserContext(), id, req.AssigneeID, principal.ActorID())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": assignmentResponse(assignment)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	msg, err := h.service.AddMessage(c.UserContext(), id, principal.ActorID(), req.Content, req.Quote)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// LinkFeedback POST /tickets/:id/feedback.
func (h *TicketsHandler) LinkFeedback(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.FeedbackRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	fb, err := h.service.LinkFeedback(c.UserContext(), id, service.FeedbackInput{
		AuthorID: principal.ActorID(),
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": feedbackResponse(fb)})
}

// UpdateExpiry PATCH /tickets/:id/expiry.
func (h *TicketsHandler) UpdateExpiry(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateExpiryRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.UpdateExpiry(c.UserContext(), id, req.ExpiredAt, principal.ActorID())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// bind decodes the body and checks its validate tags.
func (h *TicketsHandler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		details := make(map[string]any, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = fe.Tag()
		}
		return apperrors.NewValidationError("validation failed", details)
	}
	return nil
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:            ticket.ID,
		Slug:          ticket.Slug,
		Status:        ticket.Status,
		Priority:      ticket.Priority,
		Category:      ticket.CategoryID,
		FunctionID:    ticket.FunctionID,
		OrdererID:     ticket.OrdererID,
		OrdererEmail:  ticket.OrdererEmail,
		UpdaterID:     ticket.UpdaterID,
		Subject:       ticket.Subject,
		AttachmentRef: ticket.AttachmentRef,
		ExpiredAt:     ticket.ExpiredAt,
		FinishAt:      ticket.FinishAt,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, messages []domain.TicketMessage, history []domain.TicketHistory, assignments []domain.TicketAssignment, fb *domain.Feedback) dto.TicketDetailResponse {
	detail := dto.TicketDetailResponse{
		TicketResponse: ticketResponse(ticket),
		Messages:       make([]dto.TicketMessageResponse, 0, len(messages)),
		History:        make([]dto.TicketHistoryResponse, 0, len(history)),
		Assignments:    make([]dto.AssignmentResponse, 0, len(assignments)),
	}
	for i := range messages {
		detail.Messages = append(detail.Messages, messageResponse(&messages[i]))
	}
	for _, entry := range history {
		detail.History = append(detail.History, dto.TicketHistoryResponse{
			ID:         entry.ID,
			ChangeType: entry.ChangeType,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			ActorID:    entry.ActorID,
			AssigneeID: entry.AssigneeID,
			CreatedAt:  entry.CreatedAt,
		})
	}
	for i := range assignments {
		detail.Assignments = append(detail.Assignments, assignmentResponse(&assignments[i]))
	}
	if fb != nil {
		resp := feedbackResponse(fb)
		detail.Feedback = &resp
	}
	return detail
}

func messageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	return dto.TicketMessageResponse{
		ID:        msg.ID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		Quote:     msg.Quote,
		CreatedAt: msg.CreatedAt,
	}
}

func assignmentResponse(a *domain.TicketAssignment) dto.AssignmentResponse {
	return dto.AssignmentResponse{
		ID:           a.ID,
		AssigneeID:   a.AssigneeID,
		AssignedByID: a.AssignedByID,
		AssignedAt:   a.AssignedAt,
	}
}

func feedbackResponse(fb *domain.Feedback) dto.FeedbackResponse {
	return dto.FeedbackResponse{
		ID:        fb.ID,
		AuthorID:  fb.AuthorID,
		Rating:    fb.Rating,
		Comment:   fb.Comment,
		CreatedAt: fb.CreatedAt,
	}
}
