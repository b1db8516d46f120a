package common

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置，对应 docker-compose / .env 中的环境变量
type Config struct {
	AppEnv     string
	ListenAddr string
	KeyPath    string
	CertPath   string

	DBDriver   string // mysql | sqlite
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string

	RedisAddr     string
	RedisPassword string
	LogPath       string

	BufferDir string

	StorageProvider  string // local | s3
	StorageLocalPath string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	SandboxProvider string // docker | process
	SandboxImage    string
	SandboxTimeout  time.Duration
	SandboxMemoryMB int64
	SandboxPython   string
	DockerHost      string

	ReposDir string

	TaskMaxRetry      int
	TaskRetryDelay    time.Duration
	RunLockTTL        time.Duration
	WorkerConcurrency int
	ScanCron          string
	MetricsAddr       string

	ServerURL     string
	WebhookSecret string
}

var config = defaults()

func GetConfig() Config {
	return config
}

// InitConf loads an optional .env file, then reads the environment.
func InitConf() {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaultValues {
		v.SetDefault(key, value)
	}
	config = fromViper(v)
}

var defaultValues = map[string]any{
	"APP_ENV":             "development",
	"LISTEN_ADDR":         ":8080",
	"DB_DRIVER":           "mysql",
	"DB_HOST":             "localhost",
	"DB_PORT":             3306,
	"DB_NAME":             "dataflow",
	"DB_PATH":             "./dataflow.db",
	"REDIS_ADDR":          "localhost:6379",
	"LOG_PATH":            "./logs/app.log",
	"BUFFER_DIR":          "./buffers",
	"STORAGE_PROVIDER":    "local",
	"STORAGE_LOCAL_PATH":  "./storage",
	"S3_REGION":           "us-east-1",
	"SANDBOX_PROVIDER":    "docker",
	"SANDBOX_IMAGE":       "python:3.12-slim",
	"SANDBOX_TIMEOUT":     "10m",
	"SANDBOX_MEMORY_MB":   1024,
	"SANDBOX_PYTHON":      "python3",
	"DOCKER_HOST":         "unix:///var/run/docker.sock",
	"REPOS_DIR":           "./repos",
	"TASK_MAX_RETRY":      5,
	"TASK_RETRY_DELAY":    "5m",
	"RUN_LOCK_TTL":        "6h",
	"WORKER_CONCURRENCY":  10,
	"SCAN_CRON":           "@every 1m",
	"METRICS_ADDR":        ":9091",
	"SERVER_URL":          "http://localhost:8080",
	"S3_FORCE_PATH_STYLE": false,
}

func defaults() Config {
	v := viper.New()
	for key, value := range defaultValues {
		v.SetDefault(key, value)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		AppEnv:     v.GetString("APP_ENV"),
		ListenAddr: v.GetString("LISTEN_ADDR"),
		KeyPath:    v.GetString("KEY_PATH"),
		CertPath:   v.GetString("CERT_PATH"),

		DBDriver:   v.GetString("DB_DRIVER"),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBPath:     v.GetString("DB_PATH"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		LogPath:       v.GetString("LOG_PATH"),

		BufferDir: v.GetString("BUFFER_DIR"),

		StorageProvider:  v.GetString("STORAGE_PROVIDER"),
		StorageLocalPath: v.GetString("STORAGE_LOCAL_PATH"),
		S3Bucket:         v.GetString("S3_BUCKET"),
		S3Region:         v.GetString("S3_REGION"),
		S3Endpoint:       v.GetString("S3_ENDPOINT"),
		S3AccessKey:      v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:      v.GetString("S3_SECRET_KEY"),
		S3ForcePathStyle: v.GetBool("S3_FORCE_PATH_STYLE"),

		SandboxProvider: v.GetString("SANDBOX_PROVIDER"),
		SandboxImage:    v.GetString("SANDBOX_IMAGE"),
		SandboxTimeout:  v.GetDuration("SANDBOX_TIMEOUT"),
		SandboxMemoryMB: v.GetInt64("SANDBOX_MEMORY_MB"),
		SandboxPython:   v.GetString("SANDBOX_PYTHON"),
		DockerHost:      v.GetString("DOCKER_HOST"),

		ReposDir: v.GetString("REPOS_DIR"),

		TaskMaxRetry:      v.GetInt("TASK_MAX_RETRY"),
		TaskRetryDelay:    v.GetDuration("TASK_RETRY_DELAY"),
		RunLockTTL:        v.GetDuration("RUN_LOCK_TTL"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),
		ScanCron:          v.GetString("SCAN_CRON"),
		MetricsAddr:       v.GetString("METRICS_ADDR"),

		ServerURL:     v.GetString("SERVER_URL"),
		WebhookSecret: v.GetString("WEBHOOK_SECRET"),
	}
}
