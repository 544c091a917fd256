package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		DefaultFromEmail string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridAPIKey   string
		CronSecret       string
		WebhookSecret    string

		Server        ServerConfig
		Database      DatabaseConfig
		Redis         RedisConfig
		Tasks         TasksConfig
		Subscriptions SubscriptionsConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		RequestTimeout     time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | inmem
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		QueryTimeout  time.Duration
	}

	RedisConfig struct {
		Address  string // empty: in-memory scan guard
		Password string
		DB       int
	}

	TasksConfig struct {
		Workers     int
		QueueSize   int
		MaxAttempts int
		BaseBackoff time.Duration
		Timeout     time.Duration
	}

	SubscriptionsConfig struct {
		WarningWindow time.Duration
		// DedupeNotices stops re-sending the same expiry threshold twice in a UTC day.
		// Off by default.
		DedupeNotices bool
		ScanLockTTL   time.Duration
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// DefaultFrom parses DefaultFromEmail; a bare address gets AppName as display name.
func (conf *Config) DefaultFrom() mail.Address {
	if addr, err := mail.ParseAddress(conf.DefaultFromEmail); err == nil {
		if addr.Name == "" {
			addr.Name = conf.AppName
		}
		return *addr
	}
	return mail.Address{Name: conf.AppName, Address: conf.DefaultFromEmail}
}

// NewConfig loads the configuration from the environment, prefixed with the ENV name (eg. DEV_DEBUG=false).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Elimu")
	v.SetDefault("secretKey", "ts8#-q1x(n0^c!k2mhe5wq9)v@*f0lp3%zrg+u&y7bdo4ajs6i")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("cronSecret", "")
	v.SetDefault("webhookSecret", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("serverRequestTimeout", 15*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "elimu")
	v.SetDefault("dbUser", "elimu")
	v.SetDefault("dbPassword", "elimu")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("dbQueryTimeout", 5*time.Second)

	v.SetDefault("redisAddress", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("tasksWorkers", 4)
	v.SetDefault("tasksQueueSize", 256)
	v.SetDefault("tasksMaxAttempts", 5)
	v.SetDefault("tasksBaseBackoff", 200*time.Millisecond)
	v.SetDefault("tasksTimeout", 10*time.Second)

	v.SetDefault("subscriptionsWarningWindow", 7*24*time.Hour)
	v.SetDefault("subscriptionsDedupeNotices", false)
	v.SetDefault("subscriptionsScanLockTTL", 10*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridAPIKey:   v.GetString("sendgridAPIKey"),
		CronSecret:       v.GetString("cronSecret"),
		WebhookSecret:    v.GetString("webhookSecret"),
		Server: ServerConfig{
			Host:               v.GetString("serverHost"),
			Address:            v.GetString("serverAddress"),
			DebugHost:          v.GetString("serverDebugHost"),
			ShutdownTimeout:    v.GetDuration("serverShutdownTimeout"),
			RequestTimeout:     v.GetDuration("serverRequestTimeout"),
			JWTExpirationDelta: v.GetDuration("jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
			QueryTimeout:  v.GetDuration("dbQueryTimeout"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redisAddress"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		Tasks: TasksConfig{
			Workers:     v.GetInt("tasksWorkers"),
			QueueSize:   v.GetInt("tasksQueueSize"),
			MaxAttempts: v.GetInt("tasksMaxAttempts"),
			BaseBackoff: v.GetDuration("tasksBaseBackoff"),
			Timeout:     v.GetDuration("tasksTimeout"),
		},
		Subscriptions: SubscriptionsConfig{
			WarningWindow: v.GetDuration("subscriptionsWarningWindow"),
			DedupeNotices: v.GetBool("subscriptionsDedupeNotices"),
			ScanLockTTL:   v.GetDuration("subscriptionsScanLockTTL"),
		},
	}

	if !conf.Debug && conf.CronSecret == "" {
		log.Printf("config: %s_CRONSECRET is empty, /subscriptions/expiring-check will reject every call", env)
	}
	return conf
}

// NewTestConfig returns a Config suitable for tests: debug off, in-memory storage, fast retries.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "Elimu",
		SecretKey:        "secret",
		DefaultFromEmail: "noreply@test.test",
		FrontendBaseURL:  "http://localhost:3000",
		CronSecret:       "cron-secret",
		WebhookSecret:    "webhook-secret",
		Server: ServerConfig{
			Host:               "localhost",
			ShutdownTimeout:    time.Second,
			RequestTimeout:     5 * time.Second,
			JWTExpirationDelta: 10 * time.Minute,
		},
		Database: DatabaseConfig{Engine: "inmem", QueryTimeout: time.Second},
		Tasks: TasksConfig{
			Workers:     1,
			QueueSize:   16,
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			Timeout:     time.Second,
		},
		Subscriptions: SubscriptionsConfig{
			WarningWindow: 7 * 24 * time.Hour,
			ScanLockTTL:   time.Minute,
		},
	}
}
