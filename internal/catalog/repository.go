package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/db"
)

// SQLiteStore persists records in the videos and clips tables.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn}
}

const videoColumns = `id, original_name, filename, source_path, size_bytes, status, failure_reason, created_at, completed_at`

const clipColumns = `video_id, id, clip_index, start_seconds, end_seconds, title, description, score,
	filename, output_path, subtitle_filename, subtitle_path, has_subtitles`

func (r *SQLiteStore) Get(ctx context.Context, id string) (*VideoRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap(ErrStorage, "get video", err)
	}

	clips, err := r.clipsFor(ctx, `WHERE video_id = ?`, id)
	if err != nil {
		return nil, err
	}
	v.Clips = clips[id]
	return v, nil
}

// Put upserts the record and replaces its clip rows in one transaction.
func (r *SQLiteStore) Put(ctx context.Context, v *VideoRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap(ErrStorage, "begin put", err)
	}
	defer tx.Rollback()

	var completedAt sql.NullString
	if v.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*v.CompletedAt), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			completed_at = excluded.completed_at,
			size_bytes = excluded.size_bytes
	`, v.ID, v.OriginalName, v.Filename, v.SourcePath, v.SizeBytes, string(v.Status),
		nullString(v.FailureReason), formatTime(v.CreatedAt), completedAt)
	if err != nil {
		return Wrap(ErrStorage, "upsert video", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE video_id = ?`, v.ID); err != nil {
		return Wrap(ErrStorage, "clear clips", err)
	}

	for _, c := range v.Clips {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clips (`+clipColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, v.ID, c.ID, c.Index, c.StartSeconds, c.EndSeconds, c.Title, c.Description, c.Score,
			c.Filename, c.OutputPath, nullString(c.SubtitleFilename), nullString(c.SubtitlePath), boolToInt(c.HasSubtitles))
		if err != nil {
			return Wrap(ErrStorage, "insert clip", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Wrap(ErrStorage, "commit put", err)
	}
	return nil
}

func (r *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	if err != nil {
		return Wrap(ErrStorage, "delete video", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Wrap(ErrStorage, "delete video", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteStore) List(ctx context.Context) ([]*VideoRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, Wrap(ErrStorage, "list videos", err)
	}
	defer rows.Close()

	var videos []*VideoRecord
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, Wrap(ErrStorage, "scan video", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(ErrStorage, "list videos", err)
	}

	clips, err := r.clipsFor(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, v := range videos {
		v.Clips = clips[v.ID]
	}
	return videos, nil
}

// clipsFor loads clip rows matching where, grouped by video id in rank order.
func (r *SQLiteStore) clipsFor(ctx context.Context, where string, args ...any) (map[string][]ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips `+where+` ORDER BY video_id, clip_index`, args...)
	if err != nil {
		return nil, Wrap(ErrStorage, "list clips", err)
	}
	defer rows.Close()

	out := make(map[string][]ClipRecord)
	for rows.Next() {
		var c ClipRecord
		var videoID string
		var subFilename, subPath sql.NullString
		var hasSubs int
		if err := rows.Scan(&videoID, &c.ID, &c.Index, &c.StartSeconds, &c.EndSeconds, &c.Title, &c.Description, &c.Score,
			&c.Filename, &c.OutputPath, &subFilename, &subPath, &hasSubs); err != nil {
			return nil, Wrap(ErrStorage, "scan clip", err)
		}
		c.DurationSeconds = c.EndSeconds - c.StartSeconds
		c.SubtitleFilename = subFilename.String
		c.SubtitlePath = subPath.String
		c.HasSubtitles = hasSubs == 1
		out[videoID] = append(out[videoID], c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*VideoRecord, error) {
	var v VideoRecord
	var status, createdAt string
	var failureReason, completedAt sql.NullString

	err := row.Scan(&v.ID, &v.OriginalName, &v.Filename, &v.SourcePath, &v.SizeBytes, &status,
		&failureReason, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	v.Status = Status(status)
	v.FailureReason = failureReason.String
	v.CreatedAt = parseTime(createdAt)
	if completedAt.Valid && completedAt.String != "" {
		t := parseTime(completedAt.String)
		v.CompletedAt = &t
	}
	return &v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(db.TimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
