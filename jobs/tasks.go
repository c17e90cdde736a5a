package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mowesport/mowe/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeWelcomeEmail delivers the temporary password of a new account.
	TaskTypeWelcomeEmail = "mail:welcome"
)

// WelcomeEmailPayload describes the information required to send a welcome email.
type WelcomeEmailPayload struct {
	UserID            string    `json:"user_id"`
	To                string    `json:"to"`
	Name              string    `json:"name"`
	RoleLabel         string    `json:"role_label"`
	TemporaryPassword string    `json:"temporary_password"`
	ExpiresAt         time.Time `json:"expires_at"`
	SignInURL         string    `json:"sign_in_url"`
}

// NewWelcomeEmailTask constructs an Asynq task.
func NewWelcomeEmailTask(payload WelcomeEmailPayload) (*asynq.Task, error) {
	if payload.To == "" {
		return nil, errors.New("jobs: welcome email without recipient")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeWelcomeEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

var welcomeBody = template.Must(template.New("welcome").Parse(`Hola {{.Name}},

Se ha creado tu cuenta de {{.RoleLabel}} en Mowe.

Contraseña temporal: {{.TemporaryPassword}}
Válida hasta: {{.ExpiresAt.Format "02/01/2006 15:04"}} (UTC)

Inicia sesión en {{.SignInURL}} y cambia tu contraseña.
`))

// RenderWelcome builds the welcome message for payload.
func RenderWelcome(payload WelcomeEmailPayload) (Message, error) {
	var body bytes.Buffer
	payload.ExpiresAt = payload.ExpiresAt.UTC()
	if err := welcomeBody.Execute(&body, payload); err != nil {
		return Message{}, fmt.Errorf("jobs: render welcome: %w", err)
	}
	return Message{To: payload.To, Subject: "Bienvenido a Mowe", Body: body.String()}, nil
}

// WelcomeEmailJob sends welcome emails.
type WelcomeEmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeWelcomeEmail tasks.
func (j *WelcomeEmailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Mailer == nil {
		return errors.New("welcome email: handler not configured")
	}
	var payload WelcomeEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeWelcomeEmail)
	defer func() {
		err = tracker.End(err)
	}()

	msg, err := RenderWelcome(payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		j.logger().Warn("welcome email failed", slog.String("user_id", payload.UserID), slog.Any("error", err))
		return err
	}
	j.Metrics.AddMailSent(TaskTypeWelcomeEmail)
	j.logger().Info("welcome email sent", slog.String("user_id", payload.UserID))
	return nil
}

func (j *WelcomeEmailJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
