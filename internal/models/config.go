package models

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr    string `yaml:"server_addr"`
	DatabaseURL   string `yaml:"database_url"`
	KafkaBroker   string `yaml:"kafka_broker"`
	KafkaTopic    string `yaml:"kafka_topic"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	StoragePath   string `yaml:"storage_path"`
	BaseURL       string `yaml:"base_url"`
	FeedAPIKey    string `yaml:"feed_api_key"`
	WatermarkText string `yaml:"watermark_text"`
	FeedCacheTTL  int    `yaml:"feed_cache_ttl_seconds"`
	Workers       int    `yaml:"workers"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.FeedCacheTTL <= 0 {
		cfg.FeedCacheTTL = 60
	}
	return &cfg, nil
}
