package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/publisher"
)

// Notification announces a processed package version.
type Notification struct {
	Package      string            `json:"package"`
	Version      string            `json:"version"`
	Sequence     int64             `json:"sequence"`
	Dependencies map[string]string `json:"dependencies"`
}

// OrderingKey groups notifications per package on brokers that support it.
func (n Notification) OrderingKey() string { return n.Package }

// NotifyJob publishes one Notification per task.
type NotifyJob struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

var _ follower.Job = (*NotifyJob)(nil)

// NewNotifyJob returns a job publishing to topic.
func NewNotifyJob(pub publisher.Publisher, topic string, logger *zap.Logger) (*NotifyJob, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyJob{pub: pub, topic: topic, logger: logger}, nil
}

// Run publishes the notification and waits for the broker to accept it.
func (j *NotifyJob) Run(ctx context.Context, task follower.Task) error {
	id, err := j.pub.Publish(ctx, j.topic, Notification{
		Package:      task.Package,
		Version:      task.Version,
		Sequence:     task.Sequence,
		Dependencies: task.Dependencies,
	})
	if err != nil {
		return fmt.Errorf("notify %s@%s: %w", task.Package, task.Version, err)
	}
	j.logger.Debug("notification published",
		zap.String("package", task.Package),
		zap.String("version", task.Version),
		zap.String("message_id", id),
	)
	return nil
}
