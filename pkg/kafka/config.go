package kafka

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	DefaultFlushTimeout = 15 * time.Second
	messageMaxBytes     = 20971521 // 20MB
)

var saslMechanisms = []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}

// SASLConfig holds optional SASL authentication settings. SASL is disabled
// while Username is empty.
type SASLConfig struct {
	Username         string
	Password         string
	Mechanism        string
	SecurityProtocol string
}

func (c SASLConfig) Enabled() bool {
	return c.Username != ""
}

func (c SASLConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Password == "" {
		return errors.New("invalid kafka sasl config: password is required with a username")
	}
	if !slices.Contains(saslMechanisms, strings.ToUpper(c.Mechanism)) {
		return fmt.Errorf("invalid kafka sasl mechanism %q: must be one of %s", c.Mechanism, strings.Join(saslMechanisms, ", "))
	}
	return nil
}

// ApplyToConfigMap adds the SASL settings to cm when SASL is enabled.
func (c SASLConfig) ApplyToConfigMap(cm *kafka.ConfigMap) {
	if !c.Enabled() {
		return
	}
	protocol := c.SecurityProtocol
	if protocol == "" {
		protocol = "SASL_SSL"
	}
	_ = cm.SetKey("security.protocol", protocol)
	_ = cm.SetKey("sasl.mechanisms", strings.ToUpper(c.Mechanism))
	_ = cm.SetKey("sasl.username", c.Username)
	_ = cm.SetKey("sasl.password", c.Password)
}

// ProducerConfig holds the settings of the record producer.
type ProducerConfig struct {
	Brokers           string
	ClientID          string
	Topic             string
	NumPartitions     int
	ReplicationFactor int
	EnableLogs        bool
	SASL              SASLConfig
}

func (c ProducerConfig) Validate() error {
	if c.Brokers == "" {
		return errors.New("invalid kafka brokers: must not be empty")
	}
	if c.Topic == "" {
		return errors.New("invalid kafka topic: must not be empty")
	}
	return c.SASL.Validate()
}

// ConfigMap builds the librdkafka producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": c.Brokers,
		"client.id":         c.ClientID,

		// wait for all replicas to acknowledge
		"acks":               "all",
		"enable.idempotence": true,

		"linger.ms":        5,
		"batch.size":       16384,
		"compression.type": "lz4",

		"go.logs.channel.enable": c.EnableLogs,
		"message.max.bytes":      messageMaxBytes,
	}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

// AdminConfigMap builds the configuration of the admin client used to manage the topic.
func (c ProducerConfig) AdminConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{"bootstrap.servers": c.Brokers}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

func (c ProducerConfig) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.NumPartitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}
