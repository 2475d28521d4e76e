package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/models"
	"flowdesk/backend/internal/realtime"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// UserLookup resolves the recipient of a notification.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Observer counts email outcomes per template: "sent", "failed" or
// "skipped".
type Observer interface {
	ObserveEmail(template, outcome string)
}

// Dispatcher turns domain notifications into emails and realtime pushes.
// It never retries on its own.
type Dispatcher struct {
	users     UserLookup
	renderer  *Renderer
	mailer    Mailer
	publisher realtime.Publisher
	log       *logger.Logger
	observer  Observer
}

func NewDispatcher(users UserLookup, renderer *Renderer, mailer Mailer, publisher realtime.Publisher, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		users:     users,
		renderer:  renderer,
		mailer:    mailer,
		publisher: publisher,
		log:       log.Named("notify"),
	}
}

func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

// TaskAssigned pushes task.new to the assignee's room and emails them.
// A failed push is logged only; the returned error is the email's.
func (d *Dispatcher) TaskAssigned(ctx context.Context, task *models.Task) error {
	room := task.AssignedTo.String()
	if d.publisher != nil {
		ev, err := realtime.NewEvent(realtime.EventTaskNew, task)
		if err == nil {
			err = d.publisher.Publish(ctx, room, ev)
		}
		if err != nil {
			d.log.Warn("realtime push failed", zap.String("room", room), zap.Error(err))
		}
	}

	return d.email(ctx, TemplateAssigned, task.AssignedTo, func(u models.UserSummary) (Message, error) {
		return d.renderer.Assigned(u, task)
	})
}

func (d *Dispatcher) TaskReminder(ctx context.Context, task *models.Task, timeLeft string) error {
	return d.email(ctx, TemplateReminder, task.AssignedTo, func(u models.UserSummary) (Message, error) {
		return d.renderer.Reminder(u, task, timeLeft)
	})
}

func (d *Dispatcher) TaskOverdue(ctx context.Context, task *models.Task) error {
	return d.email(ctx, TemplateOverdue, task.AssignedTo, func(u models.UserSummary) (Message, error) {
		return d.renderer.Overdue(u, task)
	})
}

func (d *Dispatcher) DailySummary(ctx context.Context, userID uuid.UUID, openTasks int, date string) error {
	return d.email(ctx, TemplateDailySummary, userID, func(u models.UserSummary) (Message, error) {
		return d.renderer.DailySummary(u, openTasks, date)
	})
}

func (d *Dispatcher) email(ctx context.Context, template string, userID uuid.UUID, render func(models.UserSummary) (Message, error)) error {
	log := d.log.With(zap.String("template", template), zap.String("user_id", userID.String()))

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("recipient not found, email skipped")
			d.observe(template, "skipped")
			return nil
		}
		d.observe(template, "failed")
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	if user.Email == "" {
		log.Info("recipient has no email, skipped")
		d.observe(template, "skipped")
		return nil
	}

	msg, err := render(user.Summary())
	if err != nil {
		d.observe(template, "failed")
		log.Error("failed to render email", zap.Error(err))
		return err
	}

	start := time.Now()
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.observe(template, "failed")
		log.Error("failed to send email", zap.Error(err), zap.Duration("took", time.Since(start)))
		return fmt.Errorf("failed to send %s email: %w", template, err)
	}

	d.observe(template, "sent")
	log.Info("email sent", zap.String("to", msg.To), zap.Duration("took", time.Since(start)))
	return nil
}

func (d *Dispatcher) observe(template, outcome string) {
	if d.observer != nil {
		d.observer.ObserveEmail(template, outcome)
	}
}

// FormatMinutes renders a duration in minutes as "1 hour 30 minutes".
func FormatMinutes(minutes int) string {
	if minutes <= 0 {
		return "0 minutes"
	}
	h, m := minutes/60, minutes%60
	unit := func(n int, singular string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", singular)
		}
		return fmt.Sprintf("%d %ss", n, singular)
	}
	switch {
	case h == 0:
		return unit(m, "minute")
	case m == 0:
		return unit(h, "hour")
	default:
		return unit(h, "hour") + " " + unit(m, "minute")
	}
}
