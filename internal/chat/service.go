package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

// DefaultGreeting seeds every newly created thread.
const DefaultGreeting = "Hi, I read your story and wanted to chat!"

var tracer = otel.Tracer("support-chat/chat")

// PresenceLookup answers whether a user is currently online.
type PresenceLookup interface {
	IsUserOnline(userID string) bool
}

// Options tunes the service.
type Options struct {
	GreetingMessage string
	ProviderRoles   []string
}

// Service composes the repositories into the chat operations used by the
// HTTP and websocket layers.
type Service struct {
	threads  repositories.ThreadRepository
	messages repositories.MessageRepository
	profiles repositories.ProfileRepository
	presence PresenceLookup
	audit    *telemetry.AuditEmitter
	log      *zap.Logger

	greeting string
	roles    RolePolicy
	now      func() time.Time
}

// NewService builds a Service. presence and audit may be nil.
func NewService(
	threads repositories.ThreadRepository,
	messages repositories.MessageRepository,
	profiles repositories.ProfileRepository,
	presence PresenceLookup,
	audit *telemetry.AuditEmitter,
	opts Options,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	greeting := opts.GreetingMessage
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Service{
		threads:  threads,
		messages: messages,
		profiles: profiles,
		presence: presence,
		audit:    audit,
		log:      log,
		greeting: greeting,
		roles:    NewRolePolicy(opts.ProviderRoles...),
		now:      time.Now,
	}
}

// ListThreads returns the user's threads, newest activity first.
func (s *Service) ListThreads(ctx context.Context, userID string) ([]models.Thread, error) {
	ctx, span := tracer.Start(ctx, "chat.ListThreads", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	threads, err := s.threads.ListThreadsForUser(ctx, userID)
	return threads, spanErr(span, err)
}

// FindOrCreateThread returns the thread between peerID and initiatorID,
// creating it with a greeting from the initiator when none exists. The
// lookup and the insert are separate statements, so concurrent callers for
// the same pair can each create a thread.
func (s *Service) FindOrCreateThread(ctx context.Context, peerID, initiatorID string) (models.Thread, bool, error) {
	ctx, span := tracer.Start(ctx, "chat.FindOrCreateThread", trace.WithAttributes(
		attribute.String("peer.id", peerID),
		attribute.String("user.id", initiatorID),
	))
	defer span.End()

	if peerID == "" || initiatorID == "" {
		return models.Thread{}, false, spanErr(span, fmt.Errorf("%w: participant id required", repositories.ErrInvalidInput))
	}
	if peerID == initiatorID {
		return models.Thread{}, false, spanErr(span, fmt.Errorf("%w: cannot chat with yourself", repositories.ErrInvalidInput))
	}

	existing, err := s.threads.FindThreadBetween(ctx, peerID, initiatorID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.Thread{}, false, spanErr(span, err)
	}

	profiles, err := s.profiles.ResolveProfiles(ctx, []string{peerID, initiatorID})
	if err != nil {
		return models.Thread{}, false, spanErr(span, err)
	}
	primary, counterparty := s.roles.Classify(initiatorID, profiles[initiatorID].Role, peerID, profiles[peerID].Role)

	thread, err := s.threads.CreateThread(ctx, primary, counterparty)
	if err != nil {
		return models.Thread{}, false, spanErr(span, err)
	}
	s.log.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("user_id", thread.PrimaryID),
		zap.String("consultant_id", thread.CounterpartyID),
	)
	s.audit.Emit(ctx, telemetry.AuditEntry{
		Level:     telemetry.LevelInfo,
		Text:      "thread created",
		RequestID: telemetry.RequestIDFrom(ctx),
		UserID:    initiatorID,
		ThreadID:  thread.ID,
	})
	s.publish(ctx, "thread_created", map[string]interface{}{
		"thread_id":     thread.ID,
		"user_id":       thread.PrimaryID,
		"consultant_id": thread.CounterpartyID,
		"initiator_id":  initiatorID,
	})

	// the thread stands even if the greeting cannot be stored
	if _, err := s.messages.CreateMessage(ctx, models.NewMessage{
		ThreadID: thread.ID,
		SenderID: initiatorID,
		Content:  s.greeting,
	}); err != nil {
		observability.IncPartialWrite("seed_message")
		s.log.Warn("failed to seed thread greeting", zap.String("thread_id", thread.ID), zap.Error(err))
		s.audit.Emit(ctx, telemetry.AuditEntry{
			Level:     telemetry.LevelWarn,
			Text:      "thread greeting not stored",
			RequestID: telemetry.RequestIDFrom(ctx),
			UserID:    initiatorID,
			ThreadID:  thread.ID,
			Fields:    map[string]string{"error": err.Error()},
		})
	}
	return thread, true, nil
}

// ListMessages returns the thread's messages oldest first. Only
// participants may read them.
func (s *Service) ListMessages(ctx context.Context, threadID, userID string) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.ListMessages", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	if _, err := s.participantThread(ctx, threadID, userID); err != nil {
		return nil, spanErr(span, err)
	}
	msgs, err := s.messages.ListMessages(ctx, threadID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// SendMessage stores a message and then moves the thread's last activity.
// If only the first write lands, the stored message is returned together
// with a *repositories.PartialWriteError.
func (s *Service) SendMessage(ctx context.Context, threadID, senderID, content string, attachment *models.Attachment) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.SendMessage", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	if strings.TrimSpace(content) == "" && attachment == nil {
		return models.Message{}, spanErr(span, fmt.Errorf("%w: message is empty", repositories.ErrInvalidInput))
	}
	if attachment != nil && attachment.URL == "" {
		return models.Message{}, spanErr(span, fmt.Errorf("%w: attachment url required", repositories.ErrInvalidInput))
	}
	if _, err := s.participantThread(ctx, threadID, senderID); err != nil {
		return models.Message{}, spanErr(span, err)
	}

	msg, err := s.messages.CreateMessage(ctx, models.NewMessage{
		ThreadID:   threadID,
		SenderID:   senderID,
		Content:    content,
		Attachment: attachment,
	})
	if err != nil {
		return models.Message{}, spanErr(span, err)
	}

	if err := s.threads.TouchThread(ctx, threadID, s.now()); err != nil {
		observability.IncPartialWrite("touch_thread")
		s.log.Warn("message stored but thread activity not updated",
			zap.String("thread_id", threadID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		s.audit.Emit(ctx, telemetry.AuditEntry{
			Level:     telemetry.LevelWarn,
			Text:      "thread activity not updated",
			RequestID: telemetry.RequestIDFrom(ctx),
			UserID:    senderID,
			ThreadID:  threadID,
			Fields:    map[string]string{"message_id": msg.ID, "error": err.Error()},
		})
		partial := &repositories.PartialWriteError{Op: "touch thread", Err: err}
		span.RecordError(partial)
		return msg, partial
	}
	s.publish(ctx, "message_sent", map[string]interface{}{
		"thread_id":      threadID,
		"message_id":     msg.ID,
		"sender_id":      senderID,
		"has_attachment": attachment != nil,
	})
	return msg, nil
}

// MarkThreadRead flags every message in the thread not written by readerID
// as read and returns how many changed.
func (s *Service) MarkThreadRead(ctx context.Context, threadID, readerID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "chat.MarkThreadRead", trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer span.End()

	if _, err := s.participantThread(ctx, threadID, readerID); err != nil {
		return 0, spanErr(span, err)
	}
	n, err := s.messages.MarkThreadRead(ctx, threadID, readerID)
	return n, spanErr(span, err)
}

// UnreadCount recomputes the user's unread total from scratch: the user's
// thread ids first, then the unread messages others wrote in them.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "chat.UnreadCount", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	observability.IncUnreadRecompute()
	ids, err := s.threads.ListThreadIDsForUser(ctx, userID)
	if err != nil {
		return 0, spanErr(span, err)
	}
	count, err := s.messages.CountUnread(ctx, ids, userID)
	return count, spanErr(span, err)
}

// ResolveProfiles looks up display profiles. Unknown ids are absent.
func (s *Service) ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	return s.profiles.ResolveProfiles(ctx, ids)
}

// IsUserOnline reports presence. Without a presence source everyone is
// offline.
func (s *Service) IsUserOnline(userID string) bool {
	if s.presence == nil {
		return false
	}
	return s.presence.IsUserOnline(userID)
}

// ChatViews fetches threads, latest messages and profiles afresh and joins
// them into display records.
func (s *Service) ChatViews(ctx context.Context, userID string) ([]models.ChatView, error) {
	ctx, span := tracer.Start(ctx, "chat.ChatViews", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	threads, err := s.threads.ListThreadsForUser(ctx, userID)
	if err != nil {
		return nil, spanErr(span, err)
	}
	latest, err := s.messages.LatestMessages(ctx, threadIDs(threads))
	if err != nil {
		return nil, spanErr(span, err)
	}
	profiles, err := s.profiles.ResolveProfiles(ctx, otherParticipantIDs(userID, threads))
	if err != nil {
		return nil, spanErr(span, err)
	}
	return BuildViews(userID, threads, latest, profiles, s.IsUserOnline), nil
}

// ThreadIDs lists the ids of the user's threads.
func (s *Service) ThreadIDs(ctx context.Context, userID string) ([]string, error) {
	return s.threads.ListThreadIDsForUser(ctx, userID)
}

func (s *Service) participantThread(ctx context.Context, threadID, userID string) (models.Thread, error) {
	if threadID == "" {
		return models.Thread{}, fmt.Errorf("%w: thread id required", repositories.ErrInvalidInput)
	}
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return models.Thread{}, err
	}
	if !thread.HasParticipant(userID) {
		return models.Thread{}, fmt.Errorf("%w: not a thread participant", repositories.ErrUnauthorized)
	}
	return thread, nil
}

func (s *Service) publish(ctx context.Context, name string, payload map[string]interface{}) {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	headers := observability.BuildHeaders(telemetry.RequestIDFrom(ctx), traceID)
	if err := observability.PublishEvent(ctx, observability.RoutingChatEvents, observability.NewChatEvent(name, payload), headers); err != nil {
		s.log.Debug("chat event not published", zap.String("event", name), zap.Error(err))
	}
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
