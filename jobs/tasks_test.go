package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/mowesport/mowe/internal/jobs"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func welcomePayload() WelcomeEmailPayload {
	return WelcomeEmailPayload{
		UserID:            "u-9",
		To:                "lucia@mowe.test",
		Name:              "Lucía",
		RoleLabel:         "Propietario",
		TemporaryPassword: "Xy7#abcdEFGH",
		ExpiresAt:         time.Date(2026, 3, 14, 18, 30, 0, 0, time.FixedZone("ART", -3*3600)),
		SignInURL:         "https://admin.mowe.test/auth/sign-in",
	}
}

func TestRenderWelcome(t *testing.T) {
	msg, err := RenderWelcome(welcomePayload())
	require.NoError(t, err)

	assert.Equal(t, "lucia@mowe.test", msg.To)
	assert.Contains(t, msg.Body, "Hola Lucía")
	assert.Contains(t, msg.Body, "cuenta de Propietario")
	assert.Contains(t, msg.Body, "Xy7#abcdEFGH")
	assert.Contains(t, msg.Body, "14/03/2026 21:30")
	assert.Contains(t, msg.Body, "https://admin.mowe.test/auth/sign-in")
}

func TestNewWelcomeEmailTaskRequiresRecipient(t *testing.T) {
	_, err := NewWelcomeEmailTask(WelcomeEmailPayload{Name: "x"})
	assert.Error(t, err)

	task, err := NewWelcomeEmailTask(welcomePayload())
	require.NoError(t, err)
	assert.Equal(t, TaskTypeWelcomeEmail, task.Type())
}

func TestWelcomeEmailJobSends(t *testing.T) {
	mailer := &recordingMailer{}
	reg := prometheus.NewRegistry()
	job := &WelcomeEmailJob{Mailer: mailer, Metrics: jobmetrics.NewMetrics(reg)}

	task, err := NewWelcomeEmailTask(welcomePayload())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Bienvenido a Mowe", mailer.sent[0].Subject)
}

func TestWelcomeEmailJobSkipsRetryOnBadPayload(t *testing.T) {
	job := &WelcomeEmailJob{Mailer: &recordingMailer{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeWelcomeEmail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWelcomeEmailJobReturnsMailerError(t *testing.T) {
	boom := errors.New("relay down")
	job := &WelcomeEmailJob{Mailer: &recordingMailer{err: boom}}
	task, err := NewWelcomeEmailTask(welcomePayload())
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestSMTPMailerRejectsHeaderInjection(t *testing.T) {
	m := NewSMTPMailer("127.0.0.1", 1025, "no-reply@mowe.test", "", "")
	err := m.Send(context.Background(), Message{To: "a@b.test\r\nBcc: evil@x.test", Subject: "hi"})
	assert.ErrorContains(t, err, "header injection")
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func queueHealthFor(t *testing.T, inspector QueueInspector) (int, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(inspector, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestQueueHealth(t *testing.T) {
	code, body := queueHealthFor(t, fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Archived: 1}})
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["pending"])
	assert.EqualValues(t, 1, body["archived"])

	code, body = queueHealthFor(t, fakeInspector{err: asynq.ErrQueueNotFound})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, QueueDefault, body["queue"])

	code, _ = queueHealthFor(t, fakeInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
