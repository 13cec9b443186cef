package redpanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// requester is the admin surface of *kgo.Client used for topic bootstrap.
type requester interface {
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
}

// topicSpec describes the verdict topic. Events are diagnostics, so a
// single partition and a bounded retention are enough.
type topicSpec struct {
	Name        string
	Partitions  int32
	Replication int16
	Retention   time.Duration
}

func defaultTopicSpec(name string) topicSpec {
	return topicSpec{Name: name, Partitions: 1, Replication: 1, Retention: 7 * 24 * time.Hour}
}

func (s topicSpec) validate() error {
	switch {
	case s.Name == "":
		return errors.New("topic name is empty")
	case s.Partitions <= 0:
		return fmt.Errorf("topic %s: partitions must be positive", s.Name)
	case s.Replication <= 0:
		return fmt.Errorf("topic %s: replication factor must be positive", s.Name)
	}
	return nil
}

// ensureTopic creates the topic through the CreateTopics admin API. A topic
// that already exists is left untouched.
func ensureTopic(ctx context.Context, client requester, spec topicSpec) error {
	if err := spec.validate(); err != nil {
		return fmt.Errorf("op=redpanda.ensureTopic: %w", err)
	}
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = spec.Name
	t.NumPartitions = spec.Partitions
	t.ReplicationFactor = spec.Replication
	if spec.Retention > 0 {
		c := kmsg.NewCreateTopicsRequestTopicConfig()
		c.Name = "retention.ms"
		v := strconv.FormatInt(spec.Retention.Milliseconds(), 10)
		c.Value = &v
		t.Configs = append(t.Configs, c)
	}
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	req.Topics = append(req.Topics, t)

	raw, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=redpanda.ensureTopic: %w", err)
	}
	resp, ok := raw.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=redpanda.ensureTopic: unexpected response %T", raw)
	}
	for _, tr := range resp.Topics {
		err := kerr.ErrorForCode(tr.ErrorCode)
		switch {
		case err == nil:
			slog.Info("topic created", slog.String("topic", tr.Topic))
		case errors.Is(err, kerr.TopicAlreadyExists):
		default:
			return fmt.Errorf("op=redpanda.ensureTopic: %s: %w", tr.Topic, err)
		}
	}
	return nil
}
