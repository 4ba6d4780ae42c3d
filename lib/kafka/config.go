package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Brokers []string
	GroupID string
}

var KafkaConfig *Config

// Setup stores the broker configuration and probes the first broker so a
// broken KAFKA_BROKERS value surfaces at startup instead of on first send.
func Setup(brokers []string, groupID string) {
	KafkaConfig = &Config{
		Brokers: brokers,
		GroupID: groupID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(ctx, "tcp", KafkaConfig.Brokers[0])
	if err != nil {
		logrus.WithError(err).Warn("Kafka broker unreachable, event dispatch falls back to ledger polling")
		return
	}
	conn.Close()
	logrus.Info("Connected to Kafka")
}

// Enabled reports whether a broker list has been configured.
func Enabled() bool {
	return KafkaConfig != nil && len(KafkaConfig.Brokers) > 0
}
