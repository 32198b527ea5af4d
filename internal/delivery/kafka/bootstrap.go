package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/azizikri/flash-offer-claims/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, log *zap.Logger) error {
	adm := kadm.NewClient(client)

	var topics []string
	topics = append(topics, RequestTopics()...)
	topics = append(topics, RetryTopics()...)
	for _, t := range RequestTopics() {
		topics = append(topics, t+TopicDLQSuffix)
	}
	topics = append(topics, TopicClaimUpdates, ReplyTopic(cfg.KafkaInstanceID))

	partitions := cfg.TopicPartitions()
	retryPartitions := cfg.RetryPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range topics {
		p := partitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = retryPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	log.Info("kafka topics ensured", zap.Int("count", len(topics)))
	return nil
}
