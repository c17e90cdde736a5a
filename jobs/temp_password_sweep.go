package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/mowesport/mowe/internal/jobs"
	"github.com/mowesport/mowe/internal/platform/db"
)

// TaskExpireTempPasswords invalidates temporary passwords past their expiry.
const TaskExpireTempPasswords = "accounts:expire-temp-passwords"

// NewExpireTempPasswordsTask constructs the sweep task.
func NewExpireTempPasswordsTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskExpireTempPasswords, nil, asynq.Queue(QueueDefault)), nil
}

// TempPasswordSweepJob clears expired temporary passwords so they can never
// be used, leaving an audit row per sweep.
type TempPasswordSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewTempPasswordSweepJob initialises the sweep handler.
func NewTempPasswordSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *TempPasswordSweepJob {
	return &TempPasswordSweepJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *TempPasswordSweepJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Pool == nil {
		return errors.New("temp password sweep: handler not configured")
	}
	tracker := j.Metrics.Track(TaskExpireTempPasswords)
	defer func() {
		err = tracker.End(err)
	}()

	now := j.clock()
	var swept int64
	err = db.WithTx(ctx, j.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE user_profiles
			SET password_hash = '', temp_password_expires_at = NULL, updated_at = NOW()
			WHERE temp_password_expires_at IS NOT NULL AND temp_password_expires_at < $1`, now)
		if err != nil {
			return err
		}
		swept = tag.RowsAffected()
		if swept == 0 {
			return nil
		}
		details, err := json.Marshal(map[string]any{"count": swept, "swept_at": now})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, table_name, record_id, new_values, created_at)
			VALUES (NULL, 'EXPIRED_TEMP_PASSWORDS_CLEANED', 'user_profiles', '', $1, NOW())`, details)
		return err
	})
	if err != nil {
		j.logger().Error("temp password sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("temp password sweep", slog.Int64("accounts", swept))
	return nil
}

func (j *TempPasswordSweepJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
