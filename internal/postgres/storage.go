package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
)

// storage implements domain.TaskStore, domain.CampaignStore and
// domain.PlatformStore on a pgx connection pool.
type storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))

	if err != nil {
		return nil, err
	}

	return &storage{pool: pool}, nil
}

func (s *storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows")
}

func noneAffected(ct pgconn.CommandTag) bool {
	return ct.RowsAffected() == 0
}

func toJSON(v any) (pgtype.JSON, error) {
	var j pgtype.JSON
	if v == nil {
		err := j.Set(nil)
		return j, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return j, err
	}
	err = j.Set(raw)
	return j, err
}

func fromJSONMap(j pgtype.JSON) map[string]any {
	if j.Status != pgtype.Present || len(j.Bytes) == 0 {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(j.Bytes, &out); err != nil {
		return nil
	}
	return out
}

func fromJSONStringMap(j pgtype.JSON) map[string]string {
	if j.Status != pgtype.Present || len(j.Bytes) == 0 {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(j.Bytes, &out); err != nil {
		return nil
	}
	return out
}

const taskColumns = `id, client_id, platform_id, task_type, payload, scheduled_at, execution_window,
	status, retry_count, max_retries, last_retry_at, executed_at, error_message, result_log,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var payload, resultLog pgtype.JSON
	var status string
	err := row.Scan(
		&t.ID, &t.ClientID, &t.PlatformID, &t.TaskType, &payload, &t.ScheduledAt, &t.ExecutionWindow,
		&status, &t.RetryCount, &t.MaxRetries, &t.LastRetryAt, &t.ExecutedAt, &t.ErrorMessage, &resultLog,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.Payload = fromJSONMap(payload)
	t.ResultLog = fromJSONMap(resultLog)
	return &t, nil
}

func (s *storage) CreateTask(ctx context.Context, task *domain.ScheduledTask) error {
	payload, err := toJSON(task.Payload)
	if err != nil {
		return err
	}
	resultLog, err := toJSON(task.ResultLog)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		task.ID, task.ClientID, task.PlatformID, task.TaskType, payload, task.ScheduledAt, task.ExecutionWindow,
		string(task.Status), task.RetryCount, task.MaxRetries, task.LastRetryAt, task.ExecutedAt, task.ErrorMessage, resultLog,
		task.CreatedAt, task.UpdatedAt,
	)
	return err
}

func (s *storage) GetTaskByID(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *storage) UpdateTask(ctx context.Context, task *domain.ScheduledTask) error {
	resultLog, err := toJSON(task.ResultLog)
	if err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, scheduled_at = $3, retry_count = $4, last_retry_at = $5,
		    executed_at = $6, error_message = $7, result_log = $8, updated_at = $9
		WHERE id = $1`,
		task.ID, string(task.Status), task.ScheduledAt, task.RetryCount, task.LastRetryAt,
		task.ExecutedAt, task.ErrorMessage, resultLog, task.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if noneAffected(ct) {
		return errval.ErrNotFound
	}
	return nil
}

func (s *storage) ListDueTasks(ctx context.Context, now time.Time, n int) ([]*domain.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = 'PENDING' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`, now, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*domain.ScheduledTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *storage) ListTasks(ctx context.Context, filter domain.TaskListFilter) ([]*domain.ScheduledTask, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}

	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE client_id = $1`
	args := []any{filter.ClientID}
	if filter.Status != nil {
		query += ` AND status = $2 ORDER BY scheduled_at DESC LIMIT $3 OFFSET $4`
		args = append(args, string(*filter.Status), limit, filter.Offset)
	} else {
		query += ` ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*domain.ScheduledTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *storage) ResetStaleInProgress(ctx context.Context, cutoff time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET status = CASE
		        WHEN $1 > scheduled_at + make_interval(secs => execution_window) THEN 'FAILED'
		        ELSE 'PENDING'
		    END,
		    error_message = CASE
		        WHEN $1 > scheduled_at + make_interval(secs => execution_window)
		            THEN 'Reset by recovery sweep: execution abandoned past window'
		        ELSE error_message
		    END,
		    updated_at = $1
		WHERE status = 'IN_PROGRESS' AND updated_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (s *storage) GetCampaignByID(ctx context.Context, id string) (*domain.DMCampaign, error) {
	var c domain.DMCampaign
	var personalization pgtype.JSON
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, client_id, name, platform_ids, message_template, personalization,
		       throttle_rate, status, sent_messages, created_at, updated_at
		FROM dm_campaigns WHERE id = $1`, id).Scan(
		&c.ID, &c.ClientID, &c.Name, &c.PlatformIDs, &c.MessageTemplate, &personalization,
		&c.ThrottleRate, &status, &c.SentMessages, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}
		return nil, err
	}
	c.Status = domain.CampaignStatus(status)
	c.Personalization = fromJSONStringMap(personalization)
	return &c, nil
}

const messageColumns = `id, campaign_id, content, status, target_user_id, target_username,
	personalization, scheduled_date, sent_at, opened_at, responded_at, converted_at,
	platform_message_id, error, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.DMMessage, error) {
	var m domain.DMMessage
	var personalization pgtype.JSON
	var status string
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.Content, &status, &m.Target.UserID, &m.Target.Username,
		&personalization, &m.ScheduledDate, &m.SentAt, &m.OpenedAt, &m.RespondedAt, &m.ConvertedAt,
		&m.PlatformMessageID, &m.Error, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MessageStatus(status)
	m.Personalization = fromJSONStringMap(personalization)
	return &m, nil
}

func (s *storage) CreateMessage(ctx context.Context, msg *domain.DMMessage) error {
	personalization, err := toJSON(msg.Personalization)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dm_messages (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		msg.ID, msg.CampaignID, msg.Content, string(msg.Status), msg.Target.UserID, msg.Target.Username,
		personalization, msg.ScheduledDate, msg.SentAt, msg.OpenedAt, msg.RespondedAt, msg.ConvertedAt,
		msg.PlatformMessageID, msg.Error, msg.CreatedAt, msg.UpdatedAt,
	)
	return err
}

func (s *storage) GetMessageByID(ctx context.Context, id string) (*domain.DMMessage, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM dm_messages WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *storage) UpdateMessage(ctx context.Context, msg *domain.DMMessage) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE dm_messages
		SET content = $2, status = $3, sent_at = $4, opened_at = $5, responded_at = $6,
		    converted_at = $7, platform_message_id = $8, error = $9, updated_at = $10
		WHERE id = $1`,
		msg.ID, msg.Content, string(msg.Status), msg.SentAt, msg.OpenedAt, msg.RespondedAt,
		msg.ConvertedAt, msg.PlatformMessageID, msg.Error, msg.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if noneAffected(ct) {
		return errval.ErrNotFound
	}
	return nil
}

func (s *storage) IncrementSentMessages(ctx context.Context, campaignID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE dm_campaigns SET sent_messages = sent_messages + 1, updated_at = now()
		WHERE id = $1`, campaignID)
	if err != nil {
		return err
	}
	if noneAffected(ct) {
		return errval.ErrNotFound
	}
	return nil
}

func (s *storage) IncrementEngagement(ctx context.Context, campaignID, platformID string, kind domain.EngagementKind) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaign_metrics (campaign_id, platform_id, kind, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (campaign_id, platform_id, kind)
		DO UPDATE SET count = campaign_metrics.count + 1`,
		campaignID, platformID, string(kind))
	return err
}

func (s *storage) GetPlatformByID(ctx context.Context, id string) (*domain.Platform, error) {
	var p domain.Platform
	err := s.pool.QueryRow(ctx, `SELECT id, client_id, type, name FROM platforms WHERE id = $1`, id).
		Scan(&p.ID, &p.ClientID, &p.Type, &p.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
