package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher writes committed claim changes to the claim.updates topic.
type Publisher struct {
	client   *kgo.Client
	producer string
}

func NewPublisher(client *kgo.Client, producer string) *Publisher {
	return &Publisher{client: client, producer: producer}
}

func (p *Publisher) Publish(ctx context.Context, u domain.ClaimUpdate) error {
	record, err := p.record(u)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce claim update %s v%d: %w", u.ClaimID, u.Version, err)
	}
	return nil
}

func (p *Publisher) record(u domain.ClaimUpdate) (*kgo.Record, error) {
	payload, err := json.Marshal(FeedEvent{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		OccurredAt:    u.UpdatedAt,
		Producer:      p.producer,
		Update:        u,
	})
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: TopicClaimUpdates,
		Key:   []byte(u.ClaimID),
		Value: payload,
	}, nil
}
