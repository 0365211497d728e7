package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/metachris/mevguard/common"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
)

const (
	// StreamName is the JetStream stream holding all mevguard events
	StreamName = "MEVGUARD"

	// StreamSubjects covers mevguard.attacks.<type> and mevguard.opportunities
	StreamSubjects = "mevguard.>"

	StreamRetention = 7 * 24 * time.Hour

	OpportunitySubject = "mevguard.opportunities"
)

// AttackSubject is the subject attack records of the given type are published on
func AttackSubject(t common.AttackType) string {
	return fmt.Sprintf("mevguard.attacks.%s", t)
}

// JetStreamNotifier publishes records as JSON to NATS JetStream
type JetStreamNotifier struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewJetStreamNotifier connects to NATS and ensures the stream exists
func NewJetStreamNotifier(natsURL string, logger *slog.Logger) (*JetStreamNotifier, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("mevguard"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "failed to create JetStream context")
	}

	n := &JetStreamNotifier{nc: nc, js: js, logger: logger}
	if err := n.ensureStream(); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "failed to ensure stream exists")
	}

	logger.Info("NATS notifier initialized", "url", natsURL, "stream", StreamName)
	return n, nil
}

func (n *JetStreamNotifier) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := n.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	n.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := n.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "MEV attack detections and backrun opportunities",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	return err
}

func (n *JetStreamNotifier) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", subject)
	}
	n.logger.Debug("published event", "subject", subject)
	return nil
}

func (n *JetStreamNotifier) NotifyAttack(ctx context.Context, record *common.AttackRecord) error {
	return n.publish(ctx, AttackSubject(record.Type), record)
}

func (n *JetStreamNotifier) NotifyOpportunity(ctx context.Context, record *common.OpportunityRecord) error {
	return n.publish(ctx, OpportunitySubject, record)
}

func (n *JetStreamNotifier) Close() error {
	if n.nc != nil {
		n.nc.Close()
		n.logger.Info("NATS notifier closed")
	}
	return nil
}
