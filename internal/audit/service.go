package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service records transcription activity in Postgres. Inserts are
// best-effort: callers log failures and carry on.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type TranscriptionLog struct {
	Endpoint   string
	ContentKey string
	Filename   string
	Backend    string
	Format     string
	DurationMS int64
	Status     string
	Detail     string
}

func (s *Service) LogTranscription(ctx context.Context, rec TranscriptionLog) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO transcription_logs (endpoint, content_key, filename, backend, response_format, duration_ms, status, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Endpoint, rec.ContentKey, rec.Filename, rec.Backend, rec.Format,
		rec.DurationMS, rec.Status, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert transcription log: %w", err)
	}
	return nil
}

type UsageSummary struct {
	Backend      string  `json:"backend"`
	TotalCalls   int     `json:"total_calls"`
	Failures     int     `json:"failures"`
	AvgDurationS float64 `json:"avg_duration_seconds"`
}

// GetUsageSummary aggregates call counts and latency per backend.
func (s *Service) GetUsageSummary(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT backend, COUNT(*),
		        COUNT(*) FILTER (WHERE status <> 'ok'),
		        COALESCE(AVG(duration_ms), 0) / 1000.0
		 FROM transcription_logs
		 WHERE created_at >= $1
		 GROUP BY backend
		 ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var summaries []UsageSummary
	for rows.Next() {
		var us UsageSummary
		if err := rows.Scan(&us.Backend, &us.TotalCalls, &us.Failures, &us.AvgDurationS); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, us)
	}
	return summaries, nil
}
