package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	BindAddress string

	// Storage backend for rooms/players/answers: "postgres" or "memory".
	StorageBackend string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost string
	RedisPort string

	JWTSecret string

	// Shard tier served by this process. CodeLength must be 5 or 6.
	ShardID    string
	CodeLength int

	// Base URLs for the shard routing table, by code length.
	Shard5URL string
	Shard6URL string

	// Session timing knobs, all in seconds.
	StartDelay       int
	RevealDelay      int
	LeaderboardDelay int

	// Roster liveness.
	HeartbeatThreshold time.Duration
	SweepInterval      time.Duration

	// Rooms whose host never starts them are cancelled after this long.
	IdleRoomTTL time.Duration

	LogLevel string
}

func Load() *Config {
	// Missing .env is fine; env vars win either way.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		BindAddress:        getEnv("BIND_ADDRESS", "localhost"),
		StorageBackend:     getEnv("STORAGE_BACKEND", "postgres"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "quizrally"),
		DBPassword:         getEnv("DB_PASSWORD", "quizrally123"),
		DBName:             getEnv("DB_NAME", "quizrally"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		ShardID:            getEnv("SHARD_ID", "shard-5"),
		CodeLength:         getEnvInt("CODE_LENGTH", 5),
		Shard5URL:          getEnv("SHARD5_URL", "http://localhost:8080"),
		Shard6URL:          getEnv("SHARD6_URL", "http://localhost:8081"),
		StartDelay:         getEnvInt("START_DELAY_SECONDS", 3),
		RevealDelay:        getEnvInt("REVEAL_DELAY_SECONDS", 5),
		LeaderboardDelay:   getEnvInt("LEADERBOARD_DELAY_SECONDS", 5),
		HeartbeatThreshold: time.Duration(getEnvInt("HEARTBEAT_THRESHOLD_SECONDS", 15)) * time.Second,
		SweepInterval:      time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 5)) * time.Second,
		IdleRoomTTL:        time.Duration(getEnvInt("IDLE_ROOM_TTL_SECONDS", 1800)) * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: RedisAddr(cfg),
	})
}

func RedisAddr(cfg *Config) string {
	return fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
}

func InitLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}
