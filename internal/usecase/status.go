package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
)

type statusUpdate struct {
	userID uuid.UUID
	status models.Status
}

// statusWriter пишет online/offline в базу в фоне, по одному, в порядке поступления.
// Ошибки только логируются: состояние в памяти от них не зависит.
type statusWriter struct {
	userRepo repository.UserRepository
	queue    chan statusUpdate
	timeout  time.Duration
}

func newStatusWriter(userRepo repository.UserRepository, size int, timeout time.Duration) *statusWriter {
	return &statusWriter{
		userRepo: userRepo,
		queue:    make(chan statusUpdate, size),
		timeout:  timeout,
	}
}

func (w *statusWriter) enqueue(userID uuid.UUID, status models.Status) {
	select {
	case w.queue <- statusUpdate{userID: userID, status: status}:
	default:
		slog.Warn(
			"status queue full, update dropped",
			slog.Any(constant.UserID, userID),
			slog.String("status", string(status)),
		)
	}
}

func (w *statusWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-w.queue:
			w.write(ctx, u)
		}
	}
}

func (w *statusWriter) write(ctx context.Context, u statusUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := w.userRepo.UpdateStatus(ctx, u.userID, u.status); err != nil {
		slog.Warn(
			"update user status",
			slog.Any(constant.UserID, u.userID),
			slog.String("status", string(u.status)),
			slog.Any(constant.Error, err),
		)
	}
}
