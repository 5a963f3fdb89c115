package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/signaldeck/signaldeck/internal/domain"
)

const defaultExportInterval = time.Hour

// HistorySource provides the closed positions to archive. The reconciler
// satisfies it.
type HistorySource interface {
	ClosedPositions() []domain.Position
}

// Journal periodically exports the closed-position history as a JSON-lines
// object. Objects are keyed by export time, so every run leaves an immutable
// snapshot: journal/2026/08/31/closed-154501.jsonl.
type Journal struct {
	client   *Client
	source   HistorySource
	prefix   string
	interval time.Duration
	logger   *slog.Logger
}

// NewJournal creates a Journal writing under the given key prefix. A zero
// interval defaults to hourly exports.
func NewJournal(client *Client, source HistorySource, prefix string, interval time.Duration, logger *slog.Logger) *Journal {
	if prefix == "" {
		prefix = "journal"
	}
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return &Journal{
		client:   client,
		source:   source,
		prefix:   prefix,
		interval: interval,
		logger:   logger.With(slog.String("component", "journal")),
	}
}

// Run exports on every interval tick until the context is cancelled. Export
// failures are logged and retried on the next tick.
func (j *Journal) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := j.Export(ctx); err != nil {
				j.logger.Warn("journal export failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Export writes the current closed-position history to the object store.
// Nothing is written when the history is empty.
func (j *Journal) Export(ctx context.Context) error {
	closed := j.source.ClosedPositions()
	if len(closed) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range closed {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("s3blob: encode position %d: %w", p.ID, err)
		}
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/closed-%s.jsonl",
		j.prefix, now.Format("2006/01/02"), now.Format("150405"))

	_, err := j.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put journal %s: %w", key, err)
	}

	j.logger.Info("journal exported",
		slog.String("key", key),
		slog.Int("positions", len(closed)),
	)
	return nil
}
