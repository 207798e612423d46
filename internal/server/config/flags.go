package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/flyfile/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string              HTTP bind address (e.g., ":8080")
//	-d string              PostgreSQL DSN
//	-s string              JWT HMAC secret key
//	-u string              S3 root user
//	-p string              S3 root password
//	-b string              S3 bucket name
//	-g string              S3 region
//	-e string              S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-grpc-addr string      gRPC health bind address
//	-jwt-issuer string     expected token issuer
//	-upload-ttl duration   presigned upload URL lifetime
//	-download-ttl duration presigned download URL lifetime
//	-master-key string     master key passphrase
//	-origins list          comma separated CSRF allow-list
//	-trusted-proxies list  comma separated proxy CIDRs allowed to set X-Forwarded-For
//	-production            production mode (fail closed, terse errors)
//	-cron-secret string    cleanup trigger secret
//	-ratelimit string      rate limit backend (memory|valkey)
//	-valkey-addr string    valkey address
//	-sweep-interval dur    expiry sweep interval
//	-stripe-key string     billing provider secret key
//	-log-format string     json|text|zap
//	-log-level string      debug|info|warn|error
//
// Only these flags are parsed; os.Args is filtered with flagx.FilterArgs so
// the config file flag does not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-u", "-p", "-b", "-g", "-e",
		"-grpc-addr", "-jwt-issuer", "-upload-ttl", "-download-ttl", "-master-key",
		"-origins", "-trusted-proxies", "-production", "-cron-secret", "-ratelimit", "-valkey-addr",
		"-sweep-interval", "-stripe-key", "-log-format", "-log-level",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.GRPCHealthAddr, "grpc-addr", config.GRPCHealthAddr, "gRPC health address")
	fs.StringVar(&config.JWTIssuer, "jwt-issuer", config.JWTIssuer, "expected JWT issuer")
	fs.DurationVar(&config.UploadURLTTL, "upload-ttl", config.UploadURLTTL, "presigned upload URL lifetime")
	fs.DurationVar(&config.DownloadURLTTL, "download-ttl", config.DownloadURLTTL, "presigned download URL lifetime")
	fs.StringVar(&config.MasterKeyPassphrase, "master-key", config.MasterKeyPassphrase, "master key passphrase")

	origins := flagx.StringList(config.AllowedOrigins)
	fs.Var(&origins, "origins", "comma separated list of allowed origins")
	proxies := flagx.StringList(config.TrustedProxies)
	fs.Var(&proxies, "trusted-proxies", "comma separated list of trusted proxy CIDRs")

	fs.BoolVar(&config.Production, "production", config.Production, "production mode")
	fs.StringVar(&config.CronSecret, "cron-secret", config.CronSecret, "cleanup trigger secret")
	fs.StringVar(&config.RateLimitBackend, "ratelimit", config.RateLimitBackend, "rate limit backend (memory|valkey)")
	fs.StringVar(&config.ValkeyAddr, "valkey-addr", config.ValkeyAddr, "valkey address")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "expiry sweep interval")
	fs.StringVar(&config.StripeSecretKey, "stripe-key", config.StripeSecretKey, "stripe secret key")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format (json|text|zap)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AllowedOrigins = origins
	config.TrustedProxies = proxies
}
