package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
)

// Per-topic settings shared by the whole pipeline: short-lived staging data
// on a small local cluster.
const (
	topicPartitions  = 3
	topicReplication = 1
	retentionMs      = "86400000" // 24 h
	segmentMs        = "43200000" // 12 h
)

// allTopics is every topic the pipeline produces to or consumes from.
var allTopics = []string{
	codec.TopicExtractStage1,
	codec.TopicRawStage1,
	codec.TopicExtractStage2,
	codec.TopicRawStage2,
	codec.TopicLoad,
}

// ProvisionTopics idempotently creates the pipeline's topics.
func ProvisionTopics(ctx context.Context, bootstrapServers []string, log *zap.Logger) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(bootstrapServers...))
	if err != nil {
		return fmt.Errorf("gateway: admin client: %w", err)
	}
	defer client.Close()
	admin := kadm.NewClient(client)

	cleanup := "delete"
	retention := retentionMs
	segment := segmentMs
	configs := map[string]*string{
		"cleanup.policy": &cleanup,
		"retention.ms":   &retention,
		"segment.ms":     &segment,
	}

	for _, topic := range allTopics {
		_, err := admin.CreateTopic(ctx, topicPartitions, topicReplication, configs, topic)
		if errors.Is(err, kerr.TopicAlreadyExists) {
			log.Info("topic exists", zap.String("topic", topic))
			continue
		}
		if err != nil {
			return fmt.Errorf("gateway: create topic %s: %w", topic, err)
		}
		log.Info("topic created",
			zap.String("topic", topic),
			zap.Int("partitions", topicPartitions),
		)
	}
	return nil
}
