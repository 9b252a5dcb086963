package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Postgres) (*PostgresRepo, error) {
	return Connect(ctx, dsn(cfg))
}

func Connect(ctx context.Context, dsn string) (*PostgresRepo, error) {
	const op = "storage.postgres.Connect"

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// * Migrate creates the tables when they do not exist yet.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4);
	`

	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PassHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}

		return fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.User"

	query := `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = $1;
	`

	var u models.User

	err := r.pool.QueryRow(ctx, query, email).Scan(&u.ID, &u.Email, &u.PassHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) SaveInvite(ctx context.Context, inv models.Invite) error {
	const op = "storage.postgres.SaveInvite"

	query := `
		INSERT INTO invites (id, code, created_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`

	_, err := r.pool.Exec(ctx, query, inv.ID, inv.Code, inv.CreatedBy, nullTime(inv.ExpiresAt), inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * InviteByCode returns the most recently created invite carrying the code.
func (r *PostgresRepo) InviteByCode(ctx context.Context, code string) (models.Invite, error) {
	const op = "storage.postgres.InviteByCode"

	query := `
		SELECT id, code, created_by, accepted_by, conversation_id, expires_at, created_at, accepted_at
		FROM invites
		WHERE code = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`

	inv, err := scanInvite(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invite{}, storage.ErrInviteNotFound
		}

		return models.Invite{}, fmt.Errorf("%s: %w", op, err)
	}

	return inv, nil
}

// * AcceptInvite runs the read-check-create-write sequence under a row lock so
// concurrent acceptors serialize on the invite.
func (r *PostgresRepo) AcceptInvite(
	ctx context.Context,
	inviteID, acceptorID string,
	conv models.Conversation,
) (string, error) {
	const op = "storage.postgres.AcceptInvite"

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var acceptedBy, conversationID *string

	err = tx.QueryRow(ctx, `
		SELECT accepted_by, conversation_id
		FROM invites
		WHERE id = $1
		FOR UPDATE;
	`, inviteID).Scan(&acceptedBy, &conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrInviteNotFound)
		}

		return "", fmt.Errorf("%s: lock invite: %w", op, err)
	}

	if acceptedBy != nil {
		if *acceptedBy != acceptorID {
			return "", fmt.Errorf("%s: %w", op, storage.ErrInviteAlreadyAccepted)
		}

		return deref(conversationID), nil
	}

	linked := deref(conversationID)
	if linked == "" {
		if err := insertConversation(ctx, tx, conv); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		linked = conv.ID
	}

	_, err = tx.Exec(ctx, `
		UPDATE invites
		SET accepted_by = $2, conversation_id = $3, accepted_at = $4
		WHERE id = $1;
	`, inviteID, acceptorID, linked, conv.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("%s: update invite: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%s: commit: %w", op, err)
	}

	return linked, nil
}

// * ReserveCode takes the code unless a reservation that has not expired holds it.
func (r *PostgresRepo) ReserveCode(ctx context.Context, code string, until time.Time) (bool, error) {
	const op = "storage.postgres.ReserveCode"

	query := `
		INSERT INTO invite_codes (code, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE
		SET expires_at = EXCLUDED.expires_at
		WHERE invite_codes.expires_at IS NOT NULL AND invite_codes.expires_at < NOW()
		RETURNING code;
	`

	var got string

	err := r.pool.QueryRow(ctx, query, code, nullTime(until)).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (r *PostgresRepo) SaveConversation(ctx context.Context, conv models.Conversation) error {
	const op = "storage.postgres.SaveConversation"

	if err := insertConversation(ctx, r.pool, conv); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrConversationExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	const op = "storage.postgres.Conversation"

	query := `
		SELECT id, members, ai_enabled, created_at, updated_at, pair_key
		FROM conversations
		WHERE id = $1;
	`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, storage.ErrConversationNotFound
		}

		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

func (r *PostgresRepo) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	const op = "storage.postgres.ConversationsForUser"

	query := `
		SELECT id, members, ai_enabled, created_at, updated_at, pair_key
		FROM conversations
		WHERE $1 = ANY(members)
		ORDER BY updated_at DESC, id;
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	res := make([]models.Conversation, 0)

	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (r *PostgresRepo) DirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	const op = "storage.postgres.DirectConversation"

	query := `
		SELECT id, members, ai_enabled, created_at, updated_at, pair_key
		FROM conversations
		WHERE members @> ARRAY[$1, $2]::text[] AND cardinality(members) = 2
		ORDER BY updated_at DESC
		LIMIT 1;
	`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, userA, userB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, storage.ErrConversationNotFound
		}

		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

func (r *PostgresRepo) TouchConversation(ctx context.Context, id string, at time.Time) error {
	const op = "storage.postgres.TouchConversation"

	tag, err := r.pool.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConversationNotFound
	}

	return nil
}

func (r *PostgresRepo) SaveMessage(ctx context.Context, msg models.Message) error {
	const op = "storage.postgres.SaveMessage"

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, text, type, hidden_from_ai, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	_, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Text,
		msg.Type,
		msg.HiddenFromAI,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	const op = "storage.postgres.Messages"

	query := `
		SELECT id, conversation_id, sender_id, text, type, hidden_from_ai, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY created_at, id;
	`

	rows, err := r.pool.Query(ctx, query, conversationID, nullTime(since))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	res := make([]models.Message, 0)

	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.Text,
			&m.Type,
			&m.HiddenFromAI,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertConversation(ctx context.Context, db execer, conv models.Conversation) error {
	_, err := db.Exec(ctx, `
		INSERT INTO conversations (id, members, ai_enabled, created_at, updated_at, pair_key)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, conv.ID, conv.Members, conv.AIEnabled, conv.CreatedAt, conv.UpdatedAt, nullString(conv.PairKey))

	return err
}

func scanInvite(row pgx.Row) (models.Invite, error) {
	var (
		inv                 models.Invite
		acceptedBy, convID  *string
		expiresAt, accepted *time.Time
	)

	if err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.CreatedBy,
		&acceptedBy,
		&convID,
		&expiresAt,
		&inv.CreatedAt,
		&accepted,
	); err != nil {
		return models.Invite{}, err
	}

	inv.AcceptedBy = deref(acceptedBy)
	inv.ConversationID = deref(convID)
	if expiresAt != nil {
		inv.ExpiresAt = *expiresAt
	}
	if accepted != nil {
		inv.AcceptedAt = *accepted
	}

	return inv, nil
}

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var (
		c       models.Conversation
		pairKey *string
	)

	err := row.Scan(&c.ID, &c.Members, &c.AIEnabled, &c.CreatedAt, &c.UpdatedAt, &pairKey)
	c.PairKey = deref(pairKey)

	return c, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// * dsn builds the connection string from config.
func dsn(cfg config.Postgres) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}
