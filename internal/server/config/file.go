package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/flyfile/internal/flagx"
	"github.com/dmitrijs2005/flyfile/internal/timex"
)

// FileConfig is the on-disk shape of the configuration. Pointer fields stay
// nil when a key is absent so the file only overrides what it names.
// Durations accept strings such as "15m" (timex.Duration).
type FileConfig struct {
	HTTPAddr                *string         `json:"http_addr" toml:"http_addr"`
	GRPCHealthAddr          *string         `json:"grpc_health_addr" toml:"grpc_health_addr"`
	DatabaseDSN             *string         `json:"database_dsn" toml:"database_dsn"`
	JWTSecret               *string         `json:"jwt_secret" toml:"jwt_secret"`
	JWTIssuer               *string         `json:"jwt_issuer" toml:"jwt_issuer"`
	S3RootUser              *string         `json:"s3_root_user" toml:"s3_root_user"`
	S3RootPassword          *string         `json:"s3_root_password" toml:"s3_root_password"`
	S3Bucket                *string         `json:"s3_bucket" toml:"s3_bucket"`
	S3Region                *string         `json:"s3_region" toml:"s3_region"`
	S3BaseEndpoint          *string         `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	UploadURLTTL            *timex.Duration `json:"upload_url_ttl" toml:"upload_url_ttl"`
	DownloadURLTTL          *timex.Duration `json:"download_url_ttl" toml:"download_url_ttl"`
	MasterKeyPassphrase     *string         `json:"master_key_passphrase" toml:"master_key_passphrase"`
	MasterKeySalt           *string         `json:"master_key_salt" toml:"master_key_salt"`
	AllowedOrigins          []string        `json:"allowed_origins" toml:"allowed_origins"`
	Production              *bool           `json:"production" toml:"production"`
	TrustedProxies          []string        `json:"trusted_proxies" toml:"trusted_proxies"`
	CronSecret              *string         `json:"cron_secret" toml:"cron_secret"`
	RateLimitBackend        *string         `json:"ratelimit_backend" toml:"ratelimit_backend"`
	ValkeyAddr              *string         `json:"valkey_addr" toml:"valkey_addr"`
	SweepInterval           *timex.Duration `json:"sweep_interval" toml:"sweep_interval"`
	SweepBatchSize          *int            `json:"sweep_batch_size" toml:"sweep_batch_size"`
	MaxEncryptedUploadBytes *int64          `json:"max_encrypted_upload_bytes" toml:"max_encrypted_upload_bytes"`
	StripeSecretKey         *string         `json:"stripe_secret_key" toml:"stripe_secret_key"`
	StripeBaseURL           *string         `json:"stripe_base_url" toml:"stripe_base_url"`
	BcryptCost              *int            `json:"bcrypt_cost" toml:"bcrypt_cost"`
	TOTPIssuer              *string         `json:"totp_issuer" toml:"totp_issuer"`
	PublicBaseURL           *string         `json:"public_base_url" toml:"public_base_url"`
	LogFormat               *string         `json:"log_format" toml:"log_format"`
	LogLevel                *string         `json:"log_level" toml:"log_level"`
	NotifyWorkers           *int            `json:"notify_workers" toml:"notify_workers"`
	NotifyQueueSize         *int            `json:"notify_queue_size" toml:"notify_queue_size"`
}

// parseFile loads the file named by -c/-config into config. Files ending in
// .toml are decoded as TOML, everything else as JSON. A missing flag leaves
// config untouched; an unreadable or malformed file panics.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	fc := &FileConfig{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), fc); err != nil {
			panic(err)
		}
	} else if err := json.Unmarshal(data, fc); err != nil {
		panic(err)
	}

	fc.apply(config)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCHealthAddr, fc.GRPCHealthAddr)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.JWTIssuer, fc.JWTIssuer)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setDuration(&c.UploadURLTTL, fc.UploadURLTTL)
	setDuration(&c.DownloadURLTTL, fc.DownloadURLTTL)
	setString(&c.MasterKeyPassphrase, fc.MasterKeyPassphrase)
	setString(&c.MasterKeySalt, fc.MasterKeySalt)
	if fc.AllowedOrigins != nil {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.Production != nil {
		c.Production = *fc.Production
	}
	if fc.TrustedProxies != nil {
		c.TrustedProxies = fc.TrustedProxies
	}
	setString(&c.CronSecret, fc.CronSecret)
	setString(&c.RateLimitBackend, fc.RateLimitBackend)
	setString(&c.ValkeyAddr, fc.ValkeyAddr)
	setDuration(&c.SweepInterval, fc.SweepInterval)
	setInt(&c.SweepBatchSize, fc.SweepBatchSize)
	if fc.MaxEncryptedUploadBytes != nil {
		c.MaxEncryptedUploadBytes = *fc.MaxEncryptedUploadBytes
	}
	setString(&c.StripeSecretKey, fc.StripeSecretKey)
	setString(&c.StripeBaseURL, fc.StripeBaseURL)
	setInt(&c.BcryptCost, fc.BcryptCost)
	setString(&c.TOTPIssuer, fc.TOTPIssuer)
	setString(&c.PublicBaseURL, fc.PublicBaseURL)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogLevel, fc.LogLevel)
	setInt(&c.NotifyWorkers, fc.NotifyWorkers)
	setInt(&c.NotifyQueueSize, fc.NotifyQueueSize)
}
