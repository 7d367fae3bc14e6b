package story

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/aliskhannn/story-publisher/internal/model"
)

var (
	ErrStoryNotFound    = errors.New("story not found")
	ErrAlreadyPublished = errors.New("story already published")
)

// Dialect selects the SQL placeholder style.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) placeholder() sq.PlaceholderFormat {
	if d == SQLite {
		return sq.Question
	}
	return sq.Dollar
}

var storyColumns = []string{
	"id", "media_file_id", "model_name", "price", "is_published", "published_at", "post_link",
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository stores stories and their publication log.
type Repository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(dialect.placeholder()),
	}
}

// GetStory retrieves a story by ID.
func (r *Repository) GetStory(ctx context.Context, id int64) (model.Story, error) {
	query, args, err := r.sb.Select(storyColumns...).
		From("stories").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Story{}, fmt.Errorf("get: build query: %w", err)
	}

	s, err := scanStory(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Story{}, ErrStoryNotFound
		}

		return model.Story{}, fmt.Errorf("get: failed to get story: %w", err)
	}

	return s, nil
}

// ListPending returns up to limit unpublished stories that have media, oldest first.
func (r *Repository) ListPending(ctx context.Context, limit uint64) ([]model.Story, error) {
	query, args, err := r.sb.Select(storyColumns...).
		From("stories").
		Where(sq.Eq{"is_published": false}).
		Where(sq.NotEq{"media_file_id": nil}).
		OrderBy("id").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list pending: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var stories []model.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending: scan: %w", err)
		}
		stories = append(stories, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending: rows: %w", err)
	}

	return stories, nil
}

// CreateStory inserts an unpublished story and returns its ID.
func (r *Repository) CreateStory(ctx context.Context, s model.Story) (int64, error) {
	query, args, err := r.sb.Insert("stories").
		Columns("media_file_id", "model_name", "price", "is_published").
		Values(nullString(s.MediaFileID), nullString(s.ModelName), nullString(s.Price), false).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("create: build query: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create: failed to save story: %w", err)
	}

	return id, nil
}

// RecordSuccess marks the story published and appends a success log entry
// in one transaction. The update only applies to an unpublished story, so
// two concurrent runs cannot both publish it: the loser gets ErrAlreadyPublished
// and nothing is written.
func (r *Repository) RecordSuccess(ctx context.Context, storyID int64, link string, publishedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record success: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	query, args, err := r.sb.Update("stories").
		Set("is_published", true).
		Set("published_at", publishedAt).
		Set("post_link", link).
		Where(sq.Eq{"id": storyID, "is_published": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("record success: build query: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("record success: update story: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record success: rows affected: %w", err)
	}
	if n == 0 {
		return r.explainNoUpdate(ctx, tx, storyID)
	}

	if err := r.insertLog(ctx, tx, storyID, model.StatusSuccess, "Published to VK: "+link); err != nil {
		return fmt.Errorf("record success: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record success: commit: %w", err)
	}

	return nil
}

// RecordFailure appends an error log entry. The story row is not touched.
func (r *Repository) RecordFailure(ctx context.Context, storyID int64, message string) error {
	if err := r.insertLog(ctx, r.db, storyID, model.StatusError, message); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	return nil
}

// ListLogs returns the publication log of a story in insertion order.
func (r *Repository) ListLogs(ctx context.Context, storyID int64) ([]model.PublicationLog, error) {
	query, args, err := r.sb.Select("id", "story_id", "status", "message", "created_at").
		From("story_publication_logs").
		Where(sq.Eq{"story_id": storyID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list logs: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var logs []model.PublicationLog
	for rows.Next() {
		var l model.PublicationLog
		if err := rows.Scan(&l.ID, &l.StoryID, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("list logs: scan: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: rows: %w", err)
	}

	return logs, nil
}

func (r *Repository) insertLog(ctx context.Context, ex execer, storyID int64, status, message string) error {
	query, args, err := r.sb.Insert("story_publication_logs").
		Columns("story_id", "status", "message").
		Values(storyID, status, message).
		ToSql()
	if err != nil {
		return fmt.Errorf("build log insert: %w", err)
	}

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}

	return nil
}

// explainNoUpdate tells a missing story apart from one that is already published.
func (r *Repository) explainNoUpdate(ctx context.Context, tx *sql.Tx, storyID int64) error {
	query, args, err := r.sb.Select("is_published").
		From("stories").
		Where(sq.Eq{"id": storyID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("record success: build query: %w", err)
	}

	var published bool
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&published); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStoryNotFound
		}
		return fmt.Errorf("record success: check story: %w", err)
	}

	return ErrAlreadyPublished
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (model.Story, error) {
	var (
		s                             model.Story
		mediaID, name, price, postURL sql.NullString
		publishedAt                   sql.NullTime
	)

	if err := row.Scan(&s.ID, &mediaID, &name, &price, &s.IsPublished, &publishedAt, &postURL); err != nil {
		return model.Story{}, err
	}

	s.MediaFileID = mediaID.String
	s.ModelName = name.String
	s.Price = price.String
	s.PostLink = postURL.String
	if publishedAt.Valid {
		t := publishedAt.Time
		s.PublishedAt = &t
	}

	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
