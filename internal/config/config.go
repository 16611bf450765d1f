package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	MySQLDSN          string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/doseledger?parseTime=true"`
	MySQLMaxOpenConns int    `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"50"`
	MySQLMaxIdleConns int    `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"25"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"stock-movements"`

	EventQueueSize   int `env:"EVENT_QUEUE_SIZE" envDefault:"10000"`
	PublisherWorkers int `env:"PUBLISHER_WORKERS" envDefault:"4"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
