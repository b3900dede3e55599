package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string   `yaml:"jwtSecret"`
		Admins    []string `yaml:"admins"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Consumer string `yaml:"consumer"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	RabbitMQ struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"rabbitmq"`
	Engine struct {
		Workers          int    `yaml:"workers"`
		AnswerPoints     int    `yaml:"answerPoints"`
		SpamWindow       string `yaml:"spamWindow"`
		DigestBuckets    int    `yaml:"digestBuckets"`
		QuestionCacheTTL string `yaml:"questionCacheTTL"`
	} `yaml:"engine"`
	Retention struct {
		Interval  string `yaml:"interval"`
		Cutoff    string `yaml:"cutoff"`
		BatchSize int    `yaml:"batchSize"`
		ChunkSize int    `yaml:"chunkSize"`
	} `yaml:"retention"`
}

// Load reads YAML config from path. QUIZROOM_JWT_SECRET overrides the
// signing secret so it can stay out of the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("QUIZROOM_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
