package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/events"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
	apperrors "github.com/spec-kit/mail-ticket-service/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows. Every mutation runs in one
// store transaction with the ticket row locked; events go out after commit.
type TicketService struct {
	store      repository.Store
	history    HistoryRecorder
	policy     ExpiryPolicy
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a TicketService.
type Option func(*TicketService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *TicketService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *TicketService) { s.logger = logger }
}

// WithDispatcher sets the event dispatcher.
func WithDispatcher(d events.Dispatcher) Option {
	return func(s *TicketService) { s.dispatcher = d }
}

// WithMetrics sets the counters sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *TicketService) { s.metrics = m }
}

// WithExpiryPolicy sets the expiry policy.
func WithExpiryPolicy(p ExpiryPolicy) Option {
	return func(s *TicketService) { s.policy = p }
}

// NewTicketService constructs the service.
func NewTicketService(store repository.Store, opts ...Option) *TicketService {
	s := &TicketService{
		store:  store,
		policy: DefaultExpiryPolicy(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	Subject       string
	Message       string
	Quote         string
	CategoryID    string
	FunctionID    string
	Priority      domain.TicketPriority
	OrdererID     string
	OrdererEmail  string
	ExpiredAt     *time.Time
	AttachmentRef *string
	SourceKey     *string
	// ActorID defaults to OrdererID.
	ActorID string
}

// FeedbackInput describes a requester's rating.
type FeedbackInput struct {
	AuthorID string
	Rating   int
	Comment  string
}

type pendingEvent struct {
	eventType events.EventType
	payload   any
}

// CreateTicket writes the ticket, its first message and the creation record.
func (s *TicketService) CreateTicket(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	now := s.clock()

	subject := strings.TrimSpace(input.Subject)
	message := strings.TrimSpace(input.Message)
	problems := map[string]any{}
	if subject == "" {
		problems["subject"] = "required"
	}
	if message == "" {
		problems["message"] = "required"
	}
	if strings.TrimSpace(input.CategoryID) == "" {
		problems["category_id"] = "required"
	}
	if strings.TrimSpace(input.FunctionID) == "" {
		problems["function_id"] = "required"
	}
	if strings.TrimSpace(input.OrdererID) == "" {
		problems["orderer_id"] = "required"
	}
	priority, err := domain.ParseTicketPriority(string(input.Priority))
	if err != nil {
		problems["priority"] = err.Error()
	}
	if input.ExpiredAt != nil && !input.ExpiredAt.After(now) {
		problems["expired_at"] = "must be in the future"
	}
	if input.SourceKey != nil && strings.TrimSpace(*input.SourceKey) == "" {
		problems["source_key"] = "must not be blank"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", problems)
	}

	actorID := input.ActorID
	if actorID == "" {
		actorID = input.OrdererID
	}
	expiredAt := s.policy.ExpiresAt(now, input.CategoryID, priority)
	if input.ExpiredAt != nil {
		expiredAt = input.ExpiredAt.UTC()
	}

	ticket := &domain.Ticket{
		Slug:          uuid.NewString(),
		Status:        domain.TicketStatusOpen,
		Priority:      priority,
		CategoryID:    input.CategoryID,
		FunctionID:    input.FunctionID,
		OrdererID:     input.OrdererID,
		OrdererEmail:  strings.TrimSpace(input.OrdererEmail),
		Subject:       subject,
		AttachmentRef: input.AttachmentRef,
		SourceKey:     input.SourceKey,
		ExpiredAt:     expiredAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		if ticket.SourceKey != nil {
			_, err := repos.Tickets().GetBySourceKey(ctx, *ticket.SourceKey)
			if err == nil {
				return apperrors.NewDuplicateSource(*ticket.SourceKey)
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		if err := repos.Tickets().Create(ctx, ticket); err != nil {
			return err
		}
		first := &domain.TicketMessage{
			TicketID:  ticket.ID,
			AuthorID:  ticket.OrdererID,
			Content:   message,
			Quote:     input.Quote,
			CreatedAt: now,
		}
		if err := repos.Messages().Create(ctx, first); err != nil {
			return err
		}
		return s.history.Created(ctx, repos, ticket, actorID, now)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateSource) && ticket.SourceKey != nil {
			return nil, apperrors.NewDuplicateSource(*ticket.SourceKey)
		}
		return nil, s.storeError(err, 0)
	}

	s.metrics.Inc(observability.CounterTicketsCreated)
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("slug", ticket.Slug),
		zap.String("priority", string(ticket.Priority)),
		zap.Time("expired_at", ticket.ExpiredAt))
	s.publish(ctx, ticket, actorID, now, pendingEvent{events.EventTicketCreated, events.TicketCreatedPayload{
		Priority:   ticket.Priority,
		CategoryID: ticket.CategoryID,
		FunctionID: ticket.FunctionID,
		OrdererID:  ticket.OrdererID,
		Subject:    ticket.Subject,
		ExpiredAt:  ticket.ExpiredAt,
		SourceKey:  ticket.SourceKey,
	}})
	return ticket, nil
}

// Transition moves a ticket along one edge of the workflow graph.
func (s *TicketService) Transition(ctx context.Context, ticketID int64, target domain.TicketStatus, actorID string) (*domain.Ticket, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperrors.NewValidationError("actor required", nil)
	}
	now := s.clock()

	var (
		ticket *domain.Ticket
		from   domain.TicketStatus
	)
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := checkTransition(current, target, now); err != nil {
			return err
		}
		from = current.Status
		applyStatus(current, target, actorID, now)
		if err := repos.Tickets().UpdateState(ctx, current); err != nil {
			return err
		}
		if err := s.history.StatusChanged(ctx, repos, current.ID, from, target, actorID, now); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}

	s.metrics.Inc(observability.CounterTransitions)
	s.logger.Info("ticket transitioned",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor_id", actorID))
	s.publish(ctx, ticket, actorID, now, statusChanged(from, target))
	return ticket, nil
}

// Assign hands a non-terminal ticket to assigneeID. Reassignment appends.
func (s *TicketService) Assign(ctx context.Context, ticketID int64, assigneeID, actorID string) (*domain.TicketAssignment, error) {
	if strings.TrimSpace(assigneeID) == "" || strings.TrimSpace(actorID) == "" {
		return nil, apperrors.NewValidationError("assignee and actor required", nil)
	}
	now := s.clock()

	var (
		ticket     *domain.Ticket
		assignment *domain.TicketAssignment
	)
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return apperrors.NewTerminalState(string(current.Status))
		}
		assignment = &domain.TicketAssignment{
			TicketID:     current.ID,
			AssigneeID:   assigneeID,
			AssignedByID: actorID,
			AssignedAt:   now,
		}
		if err := repos.Assignments().Create(ctx, assignment); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := repos.Tickets().UpdateState(ctx, current); err != nil {
			return err
		}
		if err := s.history.Assigned(ctx, repos, current.ID, current.Status, assigneeID, actorID, now); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}

	s.logger.Info("ticket assigned",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("assignee_id", assigneeID),
		zap.String("actor_id", actorID))
	s.publish(ctx, ticket, actorID, now, pendingEvent{events.EventTicketAssigned, events.TicketAssignedPayload{
		AssignmentID: assignment.ID,
		AssigneeID:   assigneeID,
	}})
	return assignment, nil
}

// AddMessage appends to the thread. An open ticket moves to process in the
// same transaction; other statuses are left alone.
func (s *TicketService) AddMessage(ctx context.Context, ticketID int64, authorID, content, quote string) (*domain.TicketMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" || strings.TrimSpace(authorID) == "" {
		return nil, apperrors.NewValidationError("author and content required", nil)
	}
	now := s.clock()

	var (
		ticket   *domain.Ticket
		msg      *domain.TicketMessage
		advanced bool
	)
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		msg = &domain.TicketMessage{
			TicketID:  current.ID,
			AuthorID:  authorID,
			Content:   content,
			Quote:     quote,
			CreatedAt: now,
		}
		if err := repos.Messages().Create(ctx, msg); err != nil {
			return err
		}
		if current.Status == domain.TicketStatusOpen {
			applyStatus(current, domain.TicketStatusProcess, authorID, now)
			if err := repos.Tickets().UpdateState(ctx, current); err != nil {
				return err
			}
			if err := s.history.StatusChanged(ctx, repos, current.ID, domain.TicketStatusOpen, domain.TicketStatusProcess, authorID, now); err != nil {
				return err
			}
			advanced = true
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}

	pending := []pendingEvent{{events.EventTicketMessageAdded, events.TicketMessageAddedPayload{
		MessageID:   msg.ID,
		AuthorID:    authorID,
		BodyPreview: stringPreview(content, 120),
	}}}
	if advanced {
		s.metrics.Inc(observability.CounterTransitions)
		pending = append(pending, statusChanged(domain.TicketStatusOpen, domain.TicketStatusProcess))
	}
	s.publish(ctx, ticket, authorID, now, pending...)
	return msg, nil
}

// LinkFeedback attaches the single rating a resolved ticket may carry.
func (s *TicketService) LinkFeedback(ctx context.Context, ticketID int64, input FeedbackInput) (*domain.Feedback, error) {
	if input.Rating < domain.MinFeedbackRating || input.Rating > domain.MaxFeedbackRating {
		return nil, apperrors.NewValidationError("rating out of range", map[string]any{
			"rating": input.Rating,
			"min":    domain.MinFeedbackRating,
			"max":    domain.MaxFeedbackRating,
		})
	}
	if strings.TrimSpace(input.AuthorID) == "" {
		return nil, apperrors.NewValidationError("author required", nil)
	}
	now := s.clock()

	var (
		ticket   *domain.Ticket
		feedback *domain.Feedback
	)
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !current.Status.AcceptsFeedback() {
			return apperrors.NewInvalidState("feedback", string(current.Status))
		}
		if _, err := repos.Feedback().GetByTicket(ctx, current.ID); err == nil {
			return apperrors.NewDuplicateFeedback(current.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		feedback = &domain.Feedback{
			TicketID:  current.ID,
			AuthorID:  input.AuthorID,
			Rating:    input.Rating,
			Comment:   strings.TrimSpace(input.Comment),
			CreatedAt: now,
		}
		if err := repos.Feedback().Create(ctx, feedback); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateFeedback) {
			return nil, apperrors.NewDuplicateFeedback(ticketID)
		}
		return nil, s.storeError(err, ticketID)
	}

	s.publish(ctx, ticket, input.AuthorID, now, pendingEvent{events.EventTicketFeedback, events.TicketFeedbackPayload{
		FeedbackID: feedback.ID,
		Rating:     feedback.Rating,
	}})
	return feedback, nil
}

// ExpireTicket expires one overdue ticket on behalf of the sweep. It writes
// only if the ticket is still in the observed status, so a transition that
// committed in between wins and the sweep reports false.
func (s *TicketService) ExpireTicket(ctx context.Context, ticketID int64, observed domain.TicketStatus) (bool, error) {
	now := s.clock()

	var ticket *domain.Ticket
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status != observed || current.Status.Terminal() || !current.Overdue(now) {
			return nil
		}
		applyStatus(current, domain.TicketStatusExpired, domain.SystemActorID, now)
		if err := repos.Tickets().UpdateState(ctx, current); err != nil {
			return err
		}
		if err := s.history.StatusChanged(ctx, repos, current.ID, observed, domain.TicketStatusExpired, domain.SystemActorID, now); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return false, s.storeError(err, ticketID)
	}
	if ticket == nil {
		return false, nil
	}

	s.metrics.Inc(observability.CounterTicketsExpired)
	s.logger.Info("ticket expired",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("from", string(observed)),
		zap.Time("expired_at", ticket.ExpiredAt))
	s.publish(ctx, ticket, domain.SystemActorID, now, statusChanged(observed, domain.TicketStatusExpired))
	return true, nil
}

// UpdateExpiry moves the expiry of a non-terminal ticket.
func (s *TicketService) UpdateExpiry(ctx context.Context, ticketID int64, expiredAt time.Time, actorID string) (*domain.Ticket, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperrors.NewValidationError("actor required", nil)
	}
	now := s.clock()
	expiredAt = expiredAt.UTC()

	var (
		ticket   *domain.Ticket
		previous time.Time
	)
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		current, err := repos.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return apperrors.NewTerminalState(string(current.Status))
		}
		if !expiredAt.After(current.CreatedAt) {
			return apperrors.NewValidationError("expired_at must be after ticket creation", map[string]any{
				"created_at": current.CreatedAt,
			})
		}
		previous = current.ExpiredAt
		current.ExpiredAt = expiredAt
		current.UpdatedAt = now
		if err := repos.Tickets().UpdateState(ctx, current); err != nil {
			return err
		}
		ticket = current
		return nil
	})
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}

	s.publish(ctx, ticket, actorID, now, pendingEvent{events.EventTicketExpiryChanged, events.TicketExpiryChangedPayload{
		OldExpiredAt: previous,
		NewExpiredAt: expiredAt,
	}})
	return ticket, nil
}

// GetTicket returns a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}
	return ticket, nil
}

// FindBySourceKey looks up the ticket created for a mailbox message.
func (s *TicketService) FindBySourceKey(ctx context.Context, key string) (*domain.Ticket, bool, error) {
	ticket, err := s.store.Tickets().GetBySourceKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStoreUnavailable(err)
	}
	return ticket, true, nil
}

// ListMessages returns the thread oldest first.
func (s *TicketService) ListMessages(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}
	return msgs, nil
}

// ListHistory returns the audit trail oldest first.
func (s *TicketService) ListHistory(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.store.History().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}
	return entries, nil
}

// ListAssignments returns every hand-off oldest first.
func (s *TicketService) ListAssignments(ctx context.Context, ticketID int64) ([]domain.TicketAssignment, error) {
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	assignments, err := s.store.Assignments().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, s.storeError(err, ticketID)
	}
	return assignments, nil
}

// GetFeedback returns the ticket's feedback, or NOT_FOUND.
func (s *TicketService) GetFeedback(ctx context.Context, ticketID int64) (*domain.Feedback, error) {
	fb, err := s.store.Feedback().GetByTicket(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("feedback", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return fb, nil
}

// ListDue returns overdue non-terminal tickets at the service clock.
func (s *TicketService) ListDue(ctx context.Context, limit int) ([]domain.Ticket, error) {
	due, err := s.store.Tickets().ListDue(ctx, s.clock(), limit)
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return due, nil
}

func checkTransition(ticket *domain.Ticket, target domain.TicketStatus, now time.Time) error {
	switch ticket.Status.CanTransitionTo(target) {
	case domain.TransitionAllowed:
		if target == domain.TicketStatusExpired && !ticket.Overdue(now) {
			return apperrors.NewInvalidTransition(string(ticket.Status), string(target))
		}
		return nil
	case domain.TransitionFromTerminal:
		return apperrors.NewTerminalState(string(ticket.Status))
	case domain.TransitionInvalid:
		return apperrors.NewInvalidTransition(string(ticket.Status), string(target))
	}
	return apperrors.NewInvalidTransition(string(ticket.Status), string(target))
}

// applyStatus keeps FinishAt set exactly while the ticket is done.
func applyStatus(ticket *domain.Ticket, target domain.TicketStatus, actorID string, now time.Time) {
	ticket.Status = target
	ticket.UpdaterID = &actorID
	ticket.UpdatedAt = now
	if target == domain.TicketStatusDone {
		finish := now
		ticket.FinishAt = &finish
	} else {
		ticket.FinishAt = nil
	}
}

func statusChanged(from, to domain.TicketStatus) pendingEvent {
	return pendingEvent{events.EventTicketStatusChanged, events.TicketStatusChangedPayload{
		OldStatus: from,
		NewStatus: to,
	}}
}

func (s *TicketService) clock() time.Time {
	return s.now().UTC()
}

// storeError passes domain errors through and classifies the rest.
func (s *TicketService) storeError(err error, ticketID int64) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, repository.ErrConstraint):
		return apperrors.NewConflict("ticket data conflicts with stored state", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewStoreUnavailable(err)
	}
	s.logger.Error("ticket store failure", zap.Int64("ticket_id", ticketID), zap.Error(err))
	return apperrors.NewStoreUnavailable(err)
}

func (s *TicketService) publish(ctx context.Context, ticket *domain.Ticket, actorID string, at time.Time, pending ...pendingEvent) {
	if s.dispatcher == nil {
		return
	}
	for _, p := range pending {
		event := events.NewEvent(p.eventType, ticket, actorID, at, p.payload)
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.metrics.Inc(observability.CounterNotificationErrors)
			s.logger.Warn("event publish failed",
				zap.String("event_type", string(p.eventType)),
				zap.Int64("ticket_id", ticket.ID),
				zap.Error(err))
		}
	}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
