// Package repository содержит реализации документного хранилища программы лояльности.
package repository

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateIdentity сохраняет учётные данные нового пользователя.
func (r *PostgresRepository) CreateIdentity(ctx context.Context, id model.Identity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO identities (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id.ID, id.Email, id.PasswordHash, id.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, id.Email)
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// GetIdentityByEmail возвращает учётные данные по email.
func (r *PostgresRepository) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	var id model.Identity
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE email = $1`,
		email,
	).Scan(&id.ID, &id.Email, &id.PasswordHash, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &id, nil
}

// DeleteIdentity удаляет учётные данные. Используется для компенсации неудачной регистрации.
func (r *PostgresRepository) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, total_spent, lifetime_spent, referral_count, is_vip, vip_expiry, profile_picture`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.TotalSpent, &u.LifetimeSpent,
		&u.ReferralCount, &u.IsVIP, &u.VIPExpiry, &u.ProfilePicture)
	return u, err
}

// CreateUser создаёт профиль пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Name, u.Email, u.TotalSpent, u.LifetimeSpent, u.ReferralCount, u.IsVIP, u.VIPExpiry, u.ProfilePicture,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser возвращает профиль пользователя.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateUser применяет частичное обновление к профилю. Побеждает последняя запись.
func (r *PostgresRepository) UpdateUser(ctx context.Context, id string, p model.UserPatch) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET
			name            = COALESCE($2, name),
			total_spent     = COALESCE($3, total_spent),
			lifetime_spent  = COALESCE($4, lifetime_spent),
			referral_count  = COALESCE($5, referral_count),
			is_vip          = COALESCE($6, is_vip),
			vip_expiry      = COALESCE($7, vip_expiry),
			profile_picture = COALESCE($8, profile_picture)
		 WHERE id = $1`,
		id, p.Name, p.TotalSpent, p.LifetimeSpent, p.ReferralCount, p.IsVIP, p.VIPExpiry, p.ProfilePicture,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNotification сохраняет уведомление.
func (r *PostgresRepository) AddNotification(ctx context.Context, n model.Notification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, title, message, kind, amount, audience, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Title, n.Message, string(n.Kind), n.Amount, n.Audience, n.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications возвращает уведомления, начиная с самых свежих.
func (r *PostgresRepository) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, message, kind, amount, audience, created_at
		 FROM notifications
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n    model.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &kind, &n.Amount, &n.Audience, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddAnnouncement сохраняет объявление.
func (r *PostgresRepository) AddAnnouncement(ctx context.Context, a model.Announcement) error {
	comments, err := encodeComments(a.Comments)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO announcements (id, title, description, date, type, liked_by, comments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Title, a.Description, a.Date, string(a.Type), nonNil(a.LikedBy), comments, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

// ListAnnouncements возвращает объявления, начиная с самых свежих.
func (r *PostgresRepository) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, date, type, liked_by, comments, created_at
		 FROM announcements
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select announcements: %w", err)
	}
	defer rows.Close()

	var res []model.Announcement
	for rows.Next() {
		var (
			a        model.Announcement
			typ      string
			comments []byte
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Date, &typ, &a.LikedBy, &comments, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		a.Type = model.AnnouncementType(typ)
		if a.Comments, err = decodeComments(comments); err != nil {
			return nil, fmt.Errorf("announcement %s: %w", a.ID, err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateAnnouncement обновляет лайки и добавляет комментарий к объявлению.
func (r *PostgresRepository) UpdateAnnouncement(ctx context.Context, id string, p model.EngagementPatch) error {
	return r.updateEngagement(ctx, "announcements", id, p)
}

// AddTestimonial сохраняет отзыв.
func (r *PostgresRepository) AddTestimonial(ctx context.Context, t model.Testimonial) error {
	comments, err := encodeComments(t.Comments)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO testimonials (id, user_id, user_name, user_image, content, rating, image, liked_by, comments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.UserID, t.UserName, t.UserImage, t.Content, t.Rating, t.Image, nonNil(t.LikedBy), comments, t.Date,
	)
	if err != nil {
		return fmt.Errorf("insert testimonial: %w", err)
	}
	return nil
}

// ListTestimonials возвращает отзывы, начиная с самых свежих.
func (r *PostgresRepository) ListTestimonials(ctx context.Context) ([]model.Testimonial, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, user_name, user_image, content, rating, image, liked_by, comments, created_at
		 FROM testimonials
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select testimonials: %w", err)
	}
	defer rows.Close()

	var res []model.Testimonial
	for rows.Next() {
		var (
			t        model.Testimonial
			comments []byte
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserName, &t.UserImage, &t.Content, &t.Rating,
			&t.Image, &t.LikedBy, &comments, &t.Date); err != nil {
			return nil, fmt.Errorf("scan testimonial: %w", err)
		}
		if t.Comments, err = decodeComments(comments); err != nil {
			return nil, fmt.Errorf("testimonial %s: %w", t.ID, err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateTestimonial обновляет лайки и добавляет комментарий к отзыву.
func (r *PostgresRepository) UpdateTestimonial(ctx context.Context, id string, p model.EngagementPatch) error {
	return r.updateEngagement(ctx, "testimonials", id, p)
}

// updateEngagement повторная доставка одного и того же комментария не создаёт дубликат.
func (r *PostgresRepository) updateEngagement(ctx context.Context, table, id string, p model.EngagementPatch) error {
	var likedBy any
	if p.LikedBy != nil {
		likedBy = p.LikedBy
	}

	var comment any
	if p.NewComment != nil {
		b, err := encodeComments([]model.Comment{*p.NewComment})
		if err != nil {
			return err
		}
		comment = b
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET
			liked_by = COALESCE($2::text[], liked_by),
			comments = CASE
				WHEN $3::jsonb IS NULL OR comments @> $3::jsonb THEN comments
				ELSE comments || $3::jsonb
			END
		 WHERE id = $1`,
		id, likedBy, comment,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddApprovalRequest сохраняет заявку на подтверждение.
func (r *PostgresRepository) AddApprovalRequest(ctx context.Context, req model.ApprovalRequest) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO approval_requests
			(id, user_id, user_name, amount, type, service_name, comment, proof_of_payment, proof_image, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) ON CONFLICT (id) DO NOTHING`,
		req.ID, req.UserID, req.UserName, req.Amount, string(req.Type), req.ServiceName, req.Comment,
		req.ProofOfPayment, req.ProofImage, string(req.Status), req.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// ListApprovalRequests возвращает заявки, начиная с самых свежих.
func (r *PostgresRepository) ListApprovalRequests(ctx context.Context) ([]model.ApprovalRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, user_name, amount, type, service_name, comment, proof_of_payment, proof_image, status, created_at
		 FROM approval_requests
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select approval requests: %w", err)
	}
	defer rows.Close()

	var res []model.ApprovalRequest
	for rows.Next() {
		var (
			req         model.ApprovalRequest
			typ, status string
		)
		if err := rows.Scan(&req.ID, &req.UserID, &req.UserName, &req.Amount, &typ, &req.ServiceName, &req.Comment,
			&req.ProofOfPayment, &req.ProofImage, &status, &req.Timestamp); err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		req.Type = model.RequestType(typ)
		req.Status = model.RequestStatus(status)
		res = append(res, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateApprovalStatus переводит заявку из pending в итоговый статус.
func (r *PostgresRepository) UpdateApprovalStatus(ctx context.Context, id string, status model.RequestStatus) error {
	return r.transition(ctx, "approval_requests", id, string(status))
}

// AddReferral сохраняет приглашение.
func (r *PostgresRepository) AddReferral(ctx context.Context, ref model.Referral) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO referrals (id, referrer_id, referred_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		ref.ID, ref.ReferrerID, ref.ReferredName, string(ref.Status), ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

// ListReferrals возвращает приглашения, начиная с самых свежих.
func (r *PostgresRepository) ListReferrals(ctx context.Context) ([]model.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, referrer_id, referred_name, status, created_at
		 FROM referrals
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select referrals: %w", err)
	}
	defer rows.Close()

	var res []model.Referral
	for rows.Next() {
		var (
			ref    model.Referral
			status string
		)
		if err := rows.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredName, &status, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		ref.Status = model.ReferralStatus(status)
		res = append(res, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateReferralStatus переводит приглашение из pending в итоговый статус.
func (r *PostgresRepository) UpdateReferralStatus(ctx context.Context, id string, status model.ReferralStatus) error {
	return r.transition(ctx, "referrals", id, string(status))
}

// transition повторный перевод в тот же статус не считается ошибкой.
func (r *PostgresRepository) transition(ctx context.Context, table, id, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET status = $2 WHERE id = $1 AND status = 'pending'`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("select %s status: %w", table, err)
	}

	if current == status {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrStatusTransition, id, current)
}

// AddConversation создаёт переписку вместе с её сообщениями.
func (r *PostgresRepository) AddConversation(ctx context.Context, c model.Conversation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (user_id, user_name, last_message, last_activity, unread_count)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (user_id) DO NOTHING`,
		c.UserID, c.UserName, c.LastMessage, c.Timestamp, c.UnreadCount,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	if err := insertMessages(ctx, tx, c.UserID, c.Messages); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpdateConversation обновляет заголовок переписки и дописывает новые сообщения.
func (r *PostgresRepository) UpdateConversation(ctx context.Context, userID string, p model.ConversationPatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET last_message = $2, last_activity = $3, unread_count = $4 WHERE user_id = $1`,
		userID, p.LastMessage, p.Timestamp, p.UnreadCount,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := insertMessages(ctx, tx, userID, p.Appended); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, userID string, msgs []model.ChatMessage) error {
	for _, m := range msgs {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (id, user_id, sender_id, sender_name, text, is_ai, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
			m.ID, userID, m.SenderID, m.SenderName, m.Text, m.IsAI, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}
	return nil
}

// ListConversations возвращает переписки, начиная с последней активной.
func (r *PostgresRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, user_name, last_message, last_activity, unread_count
		 FROM conversations
		 ORDER BY last_activity DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}

	var res []model.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.UserID, &c.UserName, &c.LastMessage, &c.Timestamp, &c.UnreadCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		index[c.UserID] = len(res)
		res = append(res, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	msgRows, err := r.pool.Query(ctx,
		`SELECT user_id, id, sender_id, sender_name, text, is_ai, created_at
		 FROM chat_messages
		 ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("select chat messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			userID string
			m      model.ChatMessage
		)
		if err := msgRows.Scan(&userID, &m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.IsAI, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if i, ok := index[userID]; ok {
			res[i].Messages = append(res[i].Messages, m)
		}
	}

	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func encodeComments(comments []model.Comment) (string, error) {
	b, err := json.Marshal(nonNil(comments))
	if err != nil {
		return "", fmt.Errorf("encode comments: %w", err)
	}
	return string(b), nil
}

// decodeComments отклоняет документы с неизвестными полями.
func decodeComments(raw []byte) ([]model.Comment, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var comments []model.Comment
	if err := dec.Decode(&comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return comments, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
