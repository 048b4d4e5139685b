package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("orders")
	if cfg.Client.Host != "localhost" || cfg.Client.Port != 5672 || cfg.Client.User != "guest" || cfg.Client.VHost != "/" {
		t.Fatalf("unexpected client defaults: %+v", cfg.Client)
	}
	if cfg.Client.ConnectionTimeout != 3*time.Second || cfg.Client.Heartbeat != 0 {
		t.Fatalf("unexpected timing defaults: %+v", cfg.Client)
	}
	if cfg.Queue.Durable || !cfg.Queue.AutoDelete || cfg.Queue.Exclusive || !cfg.Queue.Declare {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Exchange.Type != amqp.ExchangeDirect || cfg.Exchange.Durable || !cfg.Exchange.AutoDelete {
		t.Fatalf("unexpected exchange defaults: %+v", cfg.Exchange)
	}
}

func TestClientConfig_URI(t *testing.T) {
	cfg := ClientConfig{Host: "broker.local", Port: 5673, User: "app", Password: "s3cret", VHost: "jobs"}
	uri, err := amqp.ParseURI(cfg.URI())
	if err != nil {
		t.Fatalf("parse %q: %v", cfg.URI(), err)
	}
	if uri.Host != "broker.local" || uri.Port != 5673 || uri.Username != "app" || uri.Password != "s3cret" || uri.Vhost != "jobs" {
		t.Fatalf("unexpected round trip: %+v", uri)
	}

	cfg.URL = "amqp://other:5672/"
	if cfg.URI() != "amqp://other:5672/" {
		t.Fatalf("URL must take precedence, got %q", cfg.URI())
	}
}

func TestNormalize_DelayedExchange(t *testing.T) {
	cfg := DefaultConfig("jobs")
	cfg.Exchange.Name = "jobs-delayed"
	cfg.Exchange.Type = amqp.ExchangeTopic
	cfg.Exchange.Delayed = true
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Exchange.Type != "x-delayed-message" {
		t.Fatalf("expected delayed exchange type, got %q", cfg.Exchange.Type)
	}
	if cfg.Exchange.Arguments[argDelayedType] != amqp.ExchangeTopic {
		t.Fatalf("expected x-delayed-type=topic, got %v", cfg.Exchange.Arguments)
	}
}

func TestNormalize_DoesNotShareArgumentTables(t *testing.T) {
	args := amqp.Table{"x-max-length": int32(10)}
	cfg := DefaultConfig("events")
	cfg.Variant = VariantStream
	cfg.Queue.Arguments = args
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, ok := args[argQueueType]; ok {
		t.Fatal("normalize must not mutate the caller's argument table")
	}
	if cfg.Queue.Arguments["x-max-length"] != int32(10) {
		t.Fatal("caller arguments must be preserved")
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	cfg := Config{Name: "  jobs  ", Variant: "DLX"}
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Name != "jobs" || cfg.Variant != VariantDLX {
		t.Fatalf("unexpected name/variant %q/%q", cfg.Name, cfg.Variant)
	}
	if cfg.HeartbeatInterval != defaultHeartbeatInterval || cfg.OperationTimeout != defaultOperationTimeout || cfg.CheckpointEvery != defaultCheckpointEvery {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.QueueName() != "jobs" {
		t.Fatalf("queue name should default to the logical name, got %q", cfg.QueueName())
	}
	cfg.Queue.Name = "jobs.v2"
	if cfg.QueueName() != "jobs.v2" {
		t.Fatalf("queue name override ignored, got %q", cfg.QueueName())
	}
}
