// Package config loads service configuration from the environment into
// explicit structs handed to each component at startup. No component reads
// ambient process state after Load returns.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every component's settings.
type Config struct {
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Consumer    ConsumerConfig
	Services    ServiceURLs
	Kakao       KakaoConfig
	Auth        AuthConfig
	Clients     ClientConfig
	Reliability ReliabilityConfig
	Tracing     TracingConfig
}

// HTTPConfig holds the listener address, server timeouts, and the public
// base URL the gateway redirects back to after user approval.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownGrace   time.Duration
	CallbackBaseURL string
}

// DatabaseConfig holds the Postgres DSN. Empty selects the in-memory order
// store for local development.
type DatabaseConfig struct {
	DSN string
}

// RedisConfig holds broker connection and stream settings.
type RedisConfig struct {
	URL          string
	StreamMaxLen int64
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	TLSConfig    *tls.Config
}

// ConsumerConfig holds the outcome consumer's group and retry settings.
type ConsumerConfig struct {
	Group          string
	Block          time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ServiceURLs holds the collaborator base URLs.
type ServiceURLs struct {
	Member      string
	Space       string
	Reservation string
	KakaoPay    string
}

// KakaoConfig holds the gateway credential and merchant code.
type KakaoConfig struct {
	SecretKey string
	CID       string
}

// AuthConfig holds the service credential sent to the reservation service
// on the consumer path, where no user token is available.
type AuthConfig struct {
	ServiceToken string
}

// ClientConfig holds the per-call timeout for outbound HTTP.
type ClientConfig struct {
	Timeout time.Duration
}

// ReliabilityConfig holds gateway breaker and ingress limiter settings.
// A zero RateLimitInterval disables ingress limiting.
type ReliabilityConfig struct {
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// TracingConfig holds the optional OTLP endpoint; empty disables export.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

// Load reads the full configuration from env.
func Load() (Config, error) {
	var cfg Config
	var err error

	if cfg.HTTP, err = loadHTTP(); err != nil {
		return cfg, err
	}
	cfg.Database = DatabaseConfig{DSN: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
	if cfg.Redis, err = loadRedis(); err != nil {
		return cfg, err
	}
	if cfg.Consumer, err = loadConsumer(); err != nil {
		return cfg, err
	}
	if cfg.Services, err = loadServiceURLs(); err != nil {
		return cfg, err
	}
	if cfg.Kakao, err = loadKakao(); err != nil {
		return cfg, err
	}
	if cfg.Auth.ServiceToken, err = requiredString("SERVICE_TOKEN"); err != nil {
		return cfg, err
	}
	if cfg.Clients, err = loadClients(); err != nil {
		return cfg, err
	}
	if cfg.Reliability, err = loadReliability(); err != nil {
		return cfg, err
	}
	cfg.Tracing = TracingConfig{
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName: defaultString("SERVICE_NAME", "space-place-payment"),
	}

	return cfg, nil
}

func loadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		Addr:          defaultString("HTTP_ADDR", ":8080"),
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
		ShutdownGrace: 10 * time.Second,
	}

	var err error
	if cfg.CallbackBaseURL, err = requiredString("PAYMENT_URL"); err != nil {
		return cfg, err
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")

	if err = overrideDuration("HTTP_READ_TIMEOUT", &cfg.ReadTimeout); err != nil {
		return cfg, err
	}
	if err = overrideDuration("HTTP_WRITE_TIMEOUT", &cfg.WriteTimeout); err != nil {
		return cfg, err
	}
	if err = overrideDuration("HTTP_IDLE_TIMEOUT", &cfg.IdleTimeout); err != nil {
		return cfg, err
	}
	if err = overrideDuration("HTTP_SHUTDOWN_GRACE", &cfg.ShutdownGrace); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadRedis() (RedisConfig, error) {
	cfg := RedisConfig{StreamMaxLen: 10000}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if raw := strings.TrimSpace(os.Getenv("REDIS_STREAM_MAXLEN")); raw != "" {
		if cfg.StreamMaxLen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return cfg, fmt.Errorf("REDIS_STREAM_MAXLEN: %w", err)
		}
		if cfg.StreamMaxLen < 0 {
			return cfg, errors.New("REDIS_STREAM_MAXLEN must be >= 0")
		}
	}

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadConsumer() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		Group:          defaultString("CONSUMER_GROUP", "reservation-notifier"),
		Block:          5 * time.Second,
		MaxAttempts:    5,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}

	if err := overrideDuration("CONSUMER_BLOCK", &cfg.Block); err != nil {
		return cfg, err
	}
	if n, err := optionalInt("CONSUMER_MAX_ATTEMPTS"); err != nil {
		return cfg, err
	} else if n != nil && *n > 0 {
		cfg.MaxAttempts = *n
	}
	if err := overrideDuration("CONSUMER_RETRY_BASE_DELAY", &cfg.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if err := overrideDuration("CONSUMER_RETRY_MAX_DELAY", &cfg.RetryMaxDelay); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadServiceURLs() (ServiceURLs, error) {
	cfg := ServiceURLs{}
	var err error

	if cfg.Member, err = requiredString("USER_URL"); err != nil {
		return cfg, err
	}
	if cfg.Space, err = requiredString("SPACE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Reservation, err = requiredString("RESERVATION_URL"); err != nil {
		return cfg, err
	}
	if cfg.KakaoPay, err = requiredString("KAKAOPAY_URL"); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadKakao() (KakaoConfig, error) {
	cfg := KakaoConfig{CID: defaultString("KAKAO_CID", "TC0ONETIME")}
	var err error
	if cfg.SecretKey, err = requiredString("KAKAO_SECRET_KEY"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadClients() (ClientConfig, error) {
	cfg := ClientConfig{Timeout: 5 * time.Second}
	if err := overrideDuration("CLIENT_TIMEOUT", &cfg.Timeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadReliability() (ReliabilityConfig, error) {
	cfg := ReliabilityConfig{
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 10 * time.Second,
	}

	if n, err := optionalInt("GATEWAY_BREAKER_MAX_FAILURES"); err != nil {
		return cfg, err
	} else if n != nil && *n > 0 {
		cfg.BreakerMaxFailures = *n
	}
	if err := overrideDuration("GATEWAY_BREAKER_RESET_TIMEOUT", &cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if err := overrideDuration("HTTP_RATE_LIMIT_INTERVAL", &cfg.RateLimitInterval); err != nil {
		return cfg, err
	}
	if n, err := optionalInt("HTTP_RATE_LIMIT_BURST"); err != nil {
		return cfg, err
	} else if n != nil {
		cfg.RateLimitBurst = *n
	}

	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func defaultString(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func overrideDuration(name string, dst *time.Duration) error {
	val, err := optionalDuration(name)
	if err != nil {
		return err
	}
	if val != nil {
		*dst = *val
	}
	return nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}
