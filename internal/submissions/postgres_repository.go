package submissions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores submissions in the relational database.
type PostgresRepository struct {
	db DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("submissions: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const submissionColumns = `id, name, phone, product, consent, submitted_at, notification_state, notification_updated_at`

// Insert writes one row in a single statement.
func (r *PostgresRepository) Insert(ctx context.Context, a Accepted) (*Submission, error) {
	id := uuid.New()
	state := InitialState(a.Consent)
	query := `
		INSERT INTO submissions (id, name, phone, product, consent, notification_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING submitted_at
	`
	var submittedAt time.Time
	if err := r.db.QueryRow(ctx, query,
		id,
		a.Name,
		a.Phone,
		a.Product,
		a.Consent,
		string(state),
	).Scan(&submittedAt); err != nil {
		return nil, classifyPgError("insert", err)
	}

	return &Submission{
		ID:                id.String(),
		Name:              a.Name,
		Phone:             a.Phone,
		Product:           a.Product,
		Consent:           a.Consent,
		SubmittedAt:       submittedAt.UTC(),
		NotificationState: state,
	}, nil
}

// UpdateNotificationState applies a legal transition atomically. Re-applying
// the stored state succeeds without changing the row.
func (r *PostgresRepository) UpdateNotificationState(ctx context.Context, id string, state NotificationState) error {
	if !state.Valid() {
		return errInvalidTransition("update notification state", "", state)
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrSubmissionNotFound
	}
	query := `
		UPDATE submissions
		SET notification_state = $2,
			notification_updated_at = CASE WHEN notification_state = $2 THEN notification_updated_at ELSE now() END
		WHERE id = $1
		  AND (notification_state = $2 OR (notification_state = 'Pending' AND $2 IN ('Sent', 'Failed')))
	`
	tag, err := r.db.Exec(ctx, query, id, string(state))
	if err != nil {
		return classifyPgError("update notification state", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT notification_state FROM submissions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubmissionNotFound
	}
	if err != nil {
		return classifyPgError("update notification state", err)
	}
	return errInvalidTransition("update notification state", NotificationState(current), state)
}

// GetByID fetches one submission.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSubmissionNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, classifyPgError("select", err)
	}
	return sub, nil
}

// ListPending returns Pending rows submitted before the cutoff, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE notification_state = 'Pending' AND submitted_at < $1
		ORDER BY submitted_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, classifyPgError("list pending", err)
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, classifyPgError("list pending", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("list pending", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		sub       Submission
		id        uuid.UUID
		state     string
		updatedAt *time.Time
	)
	if err := row.Scan(
		&id,
		&sub.Name,
		&sub.Phone,
		&sub.Product,
		&sub.Consent,
		&sub.SubmittedAt,
		&state,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	sub.ID = id.String()
	sub.NotificationState = NotificationState(state)
	sub.NotificationUpdatedAt = updatedAt
	return &sub, nil
}

// classifyPgError maps driver failures onto StoreError kinds.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := Unavailable

	var pgErr *pgconn.PgError
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &pgErr):
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			kind = ConstraintViolation
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			kind = ConnectionFailed
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = Unavailable
	case errors.As(err, &connectErr):
		kind = ConnectionFailed
	case errors.As(err, &netErr):
		if !netErr.Timeout() {
			kind = ConnectionFailed
		}
	}
	return &StoreError{Kind: kind, Op: op, Err: fmt.Errorf("postgres: %w", err)}
}
