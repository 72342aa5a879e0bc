package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/YrFnS/Phantom-Trail-sub001/internal/event"
	"github.com/YrFnS/Phantom-Trail-sub001/internal/event/detection"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Acks        string
	Compression string

	// AlertTopic, when set, additionally receives critical detections
	// (password monitoring, WebRTC leaks) for paging consumers
	AlertTopic string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces events to Kafka with key=event id so consumers can
// drop redeliveries
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv() *KafkaSink {
	config := KafkaConfig{
		Brokers:       splitList(getEnvOr("KAFKA_BROKERS", "localhost:9092")),
		Topic:         getEnvOr("KAFKA_TOPIC", "phantomtrail.events"),
		ClientID:      getEnvOr("KAFKA_CLIENT_ID", "phantomtrail"),
		AlertTopic:    os.Getenv("KAFKA_ALERT_TOPIC"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   getEnvOr("KAFKA_COMPRESSION", ""),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaSink{config: config}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

// configMap translates the sink config into librdkafka properties
func (s *KafkaSink) configMap() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.ClientID != "" {
		configMap["client.id"] = s.config.ClientID
	}
	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s.producer = producer
	go s.handleDeliveryReports(ctx)
	log.Printf("kafka: producing to %s on %s", s.config.Topic, strings.Join(s.config.Brokers, ","))
	return nil
}

// messages returns the event's message for the main topic, plus a copy for
// the alert topic when the event is critical
func (s *KafkaSink) messages(e event.TrackingEvent) ([]*kafka.Message, error) {
	msg, err := s.buildMessage(&s.config.Topic, e)
	if err != nil {
		return nil, err
	}
	out := []*kafka.Message{msg}
	if s.config.AlertTopic != "" && e.Risk == detection.RiskCritical {
		alert := *msg
		alert.TopicPartition = kafka.TopicPartition{Topic: &s.config.AlertTopic, Partition: kafka.PartitionAny}
		out = append(out, &alert)
	}
	return out, nil
}

// buildMessage keys by event id and carries risk and method as headers so
// consumers can route without decoding the payload
func (s *KafkaSink) buildMessage(topic *string, e event.TrackingEvent) (*kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	method := "network"
	if e.InPage != nil {
		method = string(e.Method())
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(e.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "risk", Value: []byte(e.Risk)},
			{Key: "method", Value: []byte(method)},
			{Key: "schema", Value: []byte(schemaVersion)},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(e event.TrackingEvent) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	msgs, err := s.messages(e)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := s.producer.Produce(msg, nil); err != nil {
			return fmt.Errorf("failed to produce to %s: %w", *msg.TopicPartition.Topic, err)
		}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	// wait up to 10 seconds for in-flight messages
	remaining := s.producer.Flush(10 * 1000)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					log.Printf("kafka: delivery failed key=%s: %v", string(e.Key), e.TopicPartition.Error)
				}
			case kafka.Error:
				log.Printf("kafka: client error: %v", e)
			}
		}
	}
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated list, dropping empty items
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
