package messenger

import (
	"context"
	"fmt"

	"github.com/rbaliyan/messenger/store"
	"go.opentelemetry.io/otel/attribute"
)

// User is a resolved user profile used when rendering notification text.
type User struct {
	ID          string
	DisplayName string
}

// UserResolver resolves user IDs to profiles. Implementations typically
// wrap the application's user service. The resolver is optional; without
// one, notification text falls back to raw user IDs.
type UserResolver interface {
	Resolve(ctx context.Context, userID string) (*User, error)
}

// NotifyRequest describes a notification to deliver.
type NotifyRequest struct {
	// UserID is the receiving user.
	UserID string

	// Type classifies the trigger and is the key the receiver's
	// settings are checked against.
	Type NotificationType

	// Title is the short headline.
	Title string

	// Message is the body text.
	Message string

	// Link optionally points at the triggering entity.
	Link string
}

// Notifier delivers and manages per-user notifications.
//
// Delivery is settings-gated: a notification whose type the receiver
// has disabled is silently dropped before it is stored. The typed
// helpers (NotifyComment, NotifyLike, ...) render canned text from the
// actor's display name and delegate to Notify.
type Notifier interface {
	// Notify delivers a notification, honoring the receiver's settings.
	// It returns the stored notification, or (nil, nil) when the
	// receiver has the type disabled.
	Notify(ctx context.Context, req NotifyRequest) (*Notification, error)

	// NotifyComment notifies userID that actorID commented on their content.
	NotifyComment(ctx context.Context, userID, actorID, link string) (*Notification, error)
	// NotifyLike notifies userID that actorID liked their content.
	NotifyLike(ctx context.Context, userID, actorID, link string) (*Notification, error)
	// NotifyMention notifies userID that actorID mentioned them.
	NotifyMention(ctx context.Context, userID, actorID, link string) (*Notification, error)
	// NotifyFollow notifies userID that actorID followed them.
	NotifyFollow(ctx context.Context, userID, actorID string) (*Notification, error)
	// NotifyReply notifies userID that actorID replied to them.
	NotifyReply(ctx context.Context, userID, actorID, link string) (*Notification, error)
	// NotifySystem delivers a system notification with explicit text.
	NotifySystem(ctx context.Context, userID, title, message, link string) (*Notification, error)

	// Notifications lists a user's notifications, newest first.
	Notifications(ctx context.Context, userID string, opts ListOptions) (*NotificationList, error)
	// UnreadCount returns the user's unread notification count.
	UnreadCount(ctx context.Context, userID string) (int64, error)
	// MarkRead marks one notification as read. Marking a notification
	// that is already read, missing, or owned by another user succeeds
	// without effect.
	MarkRead(ctx context.Context, notificationID, userID string) error
	// MarkAllRead marks all of the user's notifications as read and
	// returns how many changed state.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	// Delete removes a notification owned by the user. Deleting a
	// notification that is missing or owned by another user succeeds
	// without effect.
	Delete(ctx context.Context, notificationID, userID string) error

	// Settings returns the user's notification settings, creating the
	// all-enabled default row on first access.
	Settings(ctx context.Context, userID string) (*NotificationSettings, error)
	// UpdateSettings applies a partial settings update. Patch keys are
	// the type names plus "push"; unknown keys are ignored.
	UpdateSettings(ctx context.Context, userID string, patch map[string]bool) (*NotificationSettings, error)
}

// notifier is the default implementation of Notifier.
type notifier struct {
	service *service
}

var _ Notifier = (*notifier)(nil)

func (n *notifier) checkAccess(userID string) error {
	if err := n.service.checkConnected(); err != nil {
		return err
	}
	if !isValidUserID(userID) {
		return newValidationError("user_id", ErrInvalidUserID, userID)
	}
	return nil
}

// Notify delivers a notification, honoring the receiver's settings.
func (n *notifier) Notify(ctx context.Context, req NotifyRequest) (*Notification, error) {
	if err := n.checkAccess(req.UserID); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, newValidationError("type", ErrInvalidNotificationType, string(req.Type))
	}

	ctx, endSpan := n.service.otel.startSpan(ctx, "messenger.notify",
		attribute.String("user_id", req.UserID),
		attribute.String("notification_type", string(req.Type)),
	)
	var notifyErr error
	defer func() { endSpan(notifyErr) }()

	settings, err := n.service.store.GetNotificationSettings(ctx, req.UserID)
	if err != nil {
		notifyErr = fmt.Errorf("load notification settings: %w", err)
		return nil, notifyErr
	}
	if !settings.Enabled(req.Type) {
		n.service.logger.Debug("notification suppressed by settings",
			"user_id", req.UserID, "type", req.Type)
		return nil, nil
	}

	notif, err := n.service.store.CreateNotification(ctx, store.NotificationData{
		UserID:  req.UserID,
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Link:    req.Link,
	})
	if err != nil {
		notifyErr = fmt.Errorf("create notification: %w", err)
		return nil, notifyErr
	}

	// Realtime push respects the global push toggle; the stored row does not.
	if settings.Push {
		n.service.realtime.publish(req.UserID, PayloadNotification, notif)
	}

	if err := n.service.events.NotificationCreated.Publish(ctx, NotificationCreatedEvent{
		NotificationID: notif.ID,
		UserID:         notif.UserID,
		Type:           string(notif.Type),
		CreatedAt:      notif.CreatedAt,
	}); err != nil {
		n.service.opts.safeEventPublishFailure("NotificationCreated", err)
	}

	return notif, nil
}

// displayName resolves actorID to a display name, falling back to the
// raw ID when no resolver is configured or resolution fails.
func (n *notifier) displayName(ctx context.Context, actorID string) string {
	if n.service.opts.users == nil {
		return actorID
	}
	user, err := n.service.opts.users.Resolve(ctx, actorID)
	if err != nil || user == nil || user.DisplayName == "" {
		if err != nil {
			n.service.logger.Debug("user resolution failed", "user_id", actorID, "error", err)
		}
		return actorID
	}
	return user.DisplayName
}

func (n *notifier) NotifyComment(ctx context.Context, userID, actorID, link string) (*Notification, error) {
	name := n.displayName(ctx, actorID)
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationComment,
		Title:   "New comment",
		Message: fmt.Sprintf("%s commented on your post", name),
		Link:    link,
	})
}

func (n *notifier) NotifyLike(ctx context.Context, userID, actorID, link string) (*Notification, error) {
	name := n.displayName(ctx, actorID)
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationLike,
		Title:   "New like",
		Message: fmt.Sprintf("%s liked your post", name),
		Link:    link,
	})
}

func (n *notifier) NotifyMention(ctx context.Context, userID, actorID, link string) (*Notification, error) {
	name := n.displayName(ctx, actorID)
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationMention,
		Title:   "You were mentioned",
		Message: fmt.Sprintf("%s mentioned you", name),
		Link:    link,
	})
}

func (n *notifier) NotifyFollow(ctx context.Context, userID, actorID string) (*Notification, error) {
	name := n.displayName(ctx, actorID)
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationFollow,
		Title:   "New follower",
		Message: fmt.Sprintf("%s started following you", name),
	})
}

func (n *notifier) NotifyReply(ctx context.Context, userID, actorID, link string) (*Notification, error) {
	name := n.displayName(ctx, actorID)
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationReply,
		Title:   "New reply",
		Message: fmt.Sprintf("%s replied to you", name),
		Link:    link,
	})
}

func (n *notifier) NotifySystem(ctx context.Context, userID, title, message, link string) (*Notification, error) {
	return n.Notify(ctx, NotifyRequest{
		UserID:  userID,
		Type:    NotificationSystem,
		Title:   title,
		Message: message,
		Link:    link,
	})
}

// Notifications lists a user's notifications, newest first.
func (n *notifier) Notifications(ctx context.Context, userID string, opts ListOptions) (*NotificationList, error) {
	if err := n.checkAccess(userID); err != nil {
		return nil, err
	}
	opts.Limit = n.service.opts.clampLimit(opts.Limit)

	list, err := n.service.store.ListNotifications(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// UnreadCount returns the user's unread notification count.
func (n *notifier) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := n.checkAccess(userID); err != nil {
		return 0, err
	}
	count, err := n.service.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread notification count: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification as read. A notification that is
// missing, already read, or not owned by userID is a benign no-op.
func (n *notifier) MarkRead(ctx context.Context, notificationID, userID string) error {
	if err := n.checkAccess(userID); err != nil {
		return err
	}
	matched, err := n.service.store.MarkNotificationRead(ctx, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !matched {
		n.service.logger.Debug("mark read matched no notification",
			"notification_id", notificationID, "user_id", userID)
	}
	return nil
}

// MarkAllRead marks all of the user's notifications as read.
func (n *notifier) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if err := n.checkAccess(userID); err != nil {
		return 0, err
	}
	count, err := n.service.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return count, nil
}

// Delete removes a notification owned by the user. A notification that
// is missing or not owned by userID is a benign no-op.
func (n *notifier) Delete(ctx context.Context, notificationID, userID string) error {
	if err := n.checkAccess(userID); err != nil {
		return err
	}
	deleted, err := n.service.store.DeleteNotification(ctx, notificationID, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if !deleted {
		n.service.logger.Debug("delete matched no notification",
			"notification_id", notificationID, "user_id", userID)
	}
	return nil
}

// Settings returns the user's notification settings.
func (n *notifier) Settings(ctx context.Context, userID string) (*NotificationSettings, error) {
	if err := n.checkAccess(userID); err != nil {
		return nil, err
	}
	settings, err := n.service.store.GetNotificationSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notification settings: %w", err)
	}
	return settings, nil
}

// Settings patch keys recognized by UpdateSettings.
const (
	SettingComment = "comment"
	SettingLike    = "like"
	SettingMention = "mention"
	SettingFollow  = "follow"
	SettingReply   = "reply"
	SettingSystem  = "system"
	SettingPush    = "push"
)

// UpdateSettings applies a partial settings update. Only recognized
// keys are applied; an update carrying none of them is rejected so a
// caller's typo cannot silently succeed.
func (n *notifier) UpdateSettings(ctx context.Context, userID string, patch map[string]bool) (*NotificationSettings, error) {
	if err := n.checkAccess(userID); err != nil {
		return nil, err
	}

	settings, err := n.service.store.GetNotificationSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notification settings: %w", err)
	}

	applied := 0
	for key, value := range patch {
		switch key {
		case SettingComment:
			settings.Comment = value
		case SettingLike:
			settings.Like = value
		case SettingMention:
			settings.Mention = value
		case SettingFollow:
			settings.Follow = value
		case SettingReply:
			settings.Reply = value
		case SettingSystem:
			settings.System = value
		case SettingPush:
			settings.Push = value
		default:
			n.service.logger.Debug("ignoring unknown settings key", "key", key)
			continue
		}
		applied++
	}
	if applied == 0 {
		return nil, ErrEmptySettingsPatch
	}

	saved, err := n.service.store.SaveNotificationSettings(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("save notification settings: %w", err)
	}
	return saved, nil
}
