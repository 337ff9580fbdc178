package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"gatekeep.org/internal/auth"
)

const (
	// QueueDefault is the queue verification mail is enqueued on.
	QueueDefault = "default"
	// TaskTypeSendCode is the task type carrying an auth.Notification.
	TaskTypeSendCode = "mail:send_code"

	maxRetry = 5
)

// NewSendCodeTask constructs an Asynq task for n.
func NewSendCodeTask(n auth.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendCode, data, asynq.MaxRetry(maxRetry)), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueMailer hands notifications to the background worker.
type QueueMailer struct {
	client enqueuer
}

var _ auth.Mailer = (*QueueMailer)(nil)

// NewQueueMailer builds a mailer over an Asynq client.
func NewQueueMailer(client *asynq.Client) *QueueMailer {
	return &QueueMailer{client: client}
}

// SendCode enqueues n for delivery.
func (m *QueueMailer) SendCode(ctx context.Context, n auth.Notification) error {
	task, err := NewSendCodeTask(n)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskTypeSendCode, err)
	}
	return nil
}

// TaskHandler processes TaskTypeSendCode tasks.
type TaskHandler struct {
	sender Sender
	logger *slog.Logger
}

// NewTaskHandler delivers queued codes through sender.
func NewTaskHandler(sender Sender, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{sender: sender, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var n auth.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		h.logger.ErrorContext(ctx, "discarding malformed mail task", slog.Any("error", err))
		return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
	}
	if n.Email == "" || n.Code == "" {
		return fmt.Errorf("incomplete notification: %w", asynq.SkipRetry)
	}
	return h.sender.Send(ctx, Compose(n))
}

// Worker wraps the Asynq server delivering queued mail.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewWorker constructs a worker consuming TaskTypeSendCode with the given
// number of concurrent handlers.
func NewWorker(redisOpts asynq.RedisClientOpt, concurrency int, handler *TaskHandler, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{logger},
		Queues:      map[string]int{QueueDefault: 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeSendCode, handler)
	return &Worker{server: srv, mux: mux, logger: logger}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// asynqLogger routes asynq server logs through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
