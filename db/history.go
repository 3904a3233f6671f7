package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mochi_backend/generation"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("db: record not found")

// sqliteTimeLayout is the format of CURRENT_TIMESTAMP.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// RequestRecord is one row of generation_requests.
type RequestRecord struct {
	ID             string        `json:"id"`
	Pipeline       string        `json:"pipeline"`
	Model          string        `json:"model"`
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Seed           uint32        `json:"seed"`
	Steps          int           `json:"steps"`
	GuidanceScale  float64       `json:"guidance_scale"`
	Scheduler      string        `json:"scheduler"`
	NumberOfImages int           `json:"number_of_images"`
	Status         string        `json:"status"`
	Message        string        `json:"message,omitempty"`
	Saved          int           `json:"saved"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	Images         []ImageRecord `json:"images,omitempty"`
}

// ImageRecord is one row of generated_images.
type ImageRecord struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Path      string    `json:"path"`
	Seed      uint32    `json:"seed"`
	Model     string    `json:"model"`
	Scheduler string    `json:"scheduler"`
	Steps     int       `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// History records generation activity. It implements generation.Observer;
// all writes are queued on the background writer.
type History struct {
	db *Database
}

// NewHistory wraps an open database.
func NewHistory(database *Database) *History {
	return &History{db: database}
}

// RequestStarted implements generation.Observer.
func (h *History) RequestStarted(req generation.Request) {
	h.db.enqueue(`
		INSERT OR REPLACE INTO generation_requests (
			id, pipeline, model, prompt, negative_prompt, width, height,
			seed, steps, guidance_scale, scheduler, number_of_images, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'running')`,
		req.ID,
		req.Pipeline.Kind.String(),
		req.Pipeline.DisplayName(),
		req.Prompt,
		req.NegativePrompt,
		req.Size.Width,
		req.Size.Height,
		int64(req.Seed),
		req.Pipeline.EffectiveStepCount(req.StepCount),
		req.GuidanceScale,
		string(req.Pipeline.EffectiveScheduler(req.Scheduler)),
		req.NumberOfImages,
	)
}

// RequestFinished implements generation.Observer.
func (h *History) RequestFinished(req generation.Request, outcome generation.Outcome) {
	h.db.enqueue(`
		UPDATE generation_requests
		SET status = ?, message = ?, saved = ?, skipped = ?, duration_ms = ?,
			finished_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		outcome.Status.Kind.String(),
		outcome.Status.Message,
		outcome.Saved,
		outcome.Skipped,
		outcome.Duration.Milliseconds(),
		req.ID,
	)
}

// RecordResult stores a saved image.
func (h *History) RecordResult(r generation.Result) {
	if r.ImagePath == "" {
		return
	}
	h.db.enqueue(`
		INSERT OR IGNORE INTO generated_images (id, request_id, path, seed, model, scheduler, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.RequestID,
		r.ImagePath,
		int64(r.Metadata.Seed),
		r.Metadata.Model,
		string(r.Metadata.Scheduler),
		r.Metadata.Steps,
	)
}

// Consume records every result until the channel closes or ctx is done.
func (h *History) Consume(ctx context.Context, results <-chan generation.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			h.RecordResult(r)
		}
	}
}

const requestColumns = `
	id, pipeline, model, COALESCE(prompt, ''), COALESCE(negative_prompt, ''),
	width, height, seed, steps, guidance_scale, COALESCE(scheduler, ''),
	number_of_images, status, COALESCE(message, ''), saved, skipped,
	duration_ms, created_at, finished_at`

// RecentRequests returns the newest requests first.
func (h *History) RecentRequests(ctx context.Context, limit int) ([]RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []RequestRecord
	err := h.db.query(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT `+requestColumns+` FROM generation_requests
			ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("failed to query requests: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRequest(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// Request returns one request with its images.
func (h *History) Request(ctx context.Context, id string) (RequestRecord, error) {
	var rec RequestRecord
	err := h.db.query(func(conn *sql.DB) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM generation_requests WHERE id = ?`, id)
		var err error
		rec, err = scanRequest(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		rows, err := conn.QueryContext(ctx, `
			SELECT id, request_id, path, seed, model, COALESCE(scheduler, ''), steps, created_at
			FROM generated_images WHERE request_id = ? ORDER BY created_at, rowid`, id)
		if err != nil {
			return fmt.Errorf("failed to query images: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var img ImageRecord
			var seed int64
			var created any
			if err := rows.Scan(&img.ID, &img.RequestID, &img.Path, &seed, &img.Model, &img.Scheduler, &img.Steps, &created); err != nil {
				return fmt.Errorf("failed to scan image row: %w", err)
			}
			img.Seed = uint32(seed)
			img.CreatedAt = parseTime(created)
			rec.Images = append(rec.Images, img)
		}
		return rows.Err()
	})
	return rec, err
}

// ImageCount returns how many images have been recorded.
func (h *History) ImageCount(ctx context.Context) (int, error) {
	var n int
	err := h.db.query(func(conn *sql.DB) error {
		return conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_images`).Scan(&n)
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (RequestRecord, error) {
	var rec RequestRecord
	var seed, durationMS int64
	var created, finished any
	err := row.Scan(
		&rec.ID, &rec.Pipeline, &rec.Model, &rec.Prompt, &rec.NegativePrompt,
		&rec.Width, &rec.Height, &seed, &rec.Steps, &rec.GuidanceScale, &rec.Scheduler,
		&rec.NumberOfImages, &rec.Status, &rec.Message, &rec.Saved, &rec.Skipped,
		&durationMS, &created, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan request row: %w", err)
	}
	rec.Seed = uint32(seed)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = parseTime(created)
	rec.FinishedAt = parseTime(finished)
	return rec, nil
}

// parseTime accepts the driver's time.Time or SQLite's text timestamp.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(sqliteTimeLayout, t)
		return parsed
	case []byte:
		parsed, _ := time.Parse(sqliteTimeLayout, string(t))
		return parsed
	}
	return time.Time{}
}
