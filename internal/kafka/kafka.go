// Package kafka holds the outbound collaborator adapters: notification
// dispatch and inventory commands are published as messages and consumed by
// the surrounding services, fire-and-forget from the core's perspective.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Notifier publishes notification intents keyed by recipient.
type Notifier struct {
	writer *kafka.Writer
}

func NewNotifier(client *Client, topic string) *Notifier {
	return &Notifier{writer: client.NewWriter(topic)}
}

func (n *Notifier) Notify(ctx context.Context, recipient, template string, data map[string]any) error {
	value, err := json.Marshal(map[string]any{
		"recipient": recipient,
		"template":  template,
		"data":      data,
		"sent_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipient),
		Value: value,
	}); err != nil {
		return fmt.Errorf("writer.WriteMessages: %w", err)
	}

	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// Inventory publishes stock commands keyed by product id.
type Inventory struct {
	writer *kafka.Writer
}

func NewInventory(client *Client, topic string) *Inventory {
	return &Inventory{writer: client.NewWriter(topic)}
}

func (i *Inventory) Reserve(ctx context.Context, productID uuid.UUID, qty int32) error {
	return i.publish(ctx, "reserve", productID, qty)
}

func (i *Inventory) Release(ctx context.Context, productID uuid.UUID, qty int32) error {
	return i.publish(ctx, "release", productID, qty)
}

func (i *Inventory) Decrement(ctx context.Context, productID uuid.UUID, qty int32) error {
	return i.publish(ctx, "decrement", productID, qty)
}

func (i *Inventory) publish(ctx context.Context, op string, productID uuid.UUID, qty int32) error {
	value, err := json.Marshal(map[string]any{
		"op":         op,
		"product_id": productID.String(),
		"quantity":   qty,
	})
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	if err := i.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(productID.String()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("writer.WriteMessages: %w", err)
	}

	return nil
}

func (i *Inventory) Close() error {
	return i.writer.Close()
}
