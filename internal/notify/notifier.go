// Package notify announces newly created documents through a Publisher.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "sourcesync.documents"

// Config selects the destination topic or stream.
type Config struct {
	Topic string
}

// Payload is the message body published for each batch.
type Payload struct {
	SourceID   string            `json:"source_id"`
	SourceName string            `json:"source_name"`
	SourceType ingest.SourceType `json:"source_type"`
	Count      int               `json:"count"`
	Documents  []ingest.Document `json:"documents"`
}

// Attributes exposes routing metadata to brokers that support it.
func (p Payload) Attributes() map[string]string {
	return map[string]string{
		"source_id":   p.SourceID,
		"source_type": string(p.SourceType),
		"count":       strconv.Itoa(p.Count),
	}
}

// PublisherNotifier implements ingest.Notifier on top of ingest.Publisher.
type PublisherNotifier struct {
	publisher ingest.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherNotifier binds publisher to a topic.
func NewPublisherNotifier(publisher ingest.Publisher, cfg Config, logger *zap.Logger) (*PublisherNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherNotifier{publisher: publisher, topic: cfg.Topic, logger: logger.Named("notifier")}, nil
}

// Notify publishes one message describing docs.
func (n *PublisherNotifier) Notify(ctx context.Context, source ingest.Source, docs []ingest.Document) error {
	if len(docs) == 0 {
		return nil
	}
	payload := Payload{
		SourceID:   source.ID,
		SourceName: source.Name,
		SourceType: source.Type,
		Count:      len(docs),
		Documents:  docs,
	}
	id, err := n.publisher.Publish(ctx, n.topic, payload)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	n.logger.Debug("notification published",
		zap.String("source_id", source.ID),
		zap.String("topic", n.topic),
		zap.String("message_id", id),
		zap.Int("documents", len(docs)),
	)
	return nil
}
