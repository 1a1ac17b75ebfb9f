package kafka

import (
	"context"
	"encoding/json"

	"ms-admission/internal/config"
	"ms-admission/internal/models"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
	Topics config.TopicConfig
}

func NewProducer(brokers []string, topics config.TopicConfig) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics}
}

// Publish writes a raw message to the given topic.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishCodeDelivery streams an issued verification code to the delivery
// pipeline (the mailer/SMS workers consume this topic).
func (p *Producer) PublishCodeDelivery(event models.CodeDeliveryEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.Topics.VerificationCodes, event.Subject, msgBytes)
}

// PublishRegistrationStatus streams a registration status change.
func (p *Producer) PublishRegistrationStatus(event models.RegistrationStatusEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.Topics.RegistrationStatus, event.RegistrationID, msgBytes)
}

// PublishCheckIn streams a check-in (or attendance override) event.
func (p *Producer) PublishCheckIn(event models.CheckInEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.Topics.CheckIns, event.RegistrationID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
