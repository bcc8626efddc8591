package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
)

// PutObjectAPI is the subset of the S3 client used by the archive.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// OutboxArchive writes published outbox rows to object storage as JSON
// lines before they are deleted from the database.
type OutboxArchive struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewOutboxArchive creates a new outbox archive.
func NewOutboxArchive(client PutObjectAPI, bucket, prefix string) *OutboxArchive {
	if prefix == "" {
		prefix = "outbox"
	}
	return &OutboxArchive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Archive uploads events as one object keyed by date and first event id.
func (a *OutboxArchive) Archive(ctx context.Context, events []*model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode outbox event %s: %w", ev.ID, err)
		}
	}

	key := a.objectKey(events)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}
	return nil
}

func (a *OutboxArchive) objectKey(events []*model.OutboxEvent) string {
	now := a.now().UTC()
	name := fmt.Sprintf("%s-%d.jsonl", events[0].ID, len(events))
	return path.Join(a.prefix, now.Format("2006/01/02"), name)
}

// Compile-time check
var _ outbound.OutboxArchivePort = (*OutboxArchive)(nil)
