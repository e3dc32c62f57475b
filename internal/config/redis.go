package config

// Redis backs four concerns in the marketplace: the token-bucket rate limiter,
// the public browse response cache, seat checkout locks and the realtime
// change feed.  When Redis cannot be reached at startup the client is nil;
// the cache and limiter then pass requests through, and booking falls back to
// relying on the database row lock alone.

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

// RedisOptions builds client options from the environment:
//   REDIS_ADDR (host:port) or REDIS_HOST + REDIS_PORT, REDIS_PASSWORD,
//   REDIS_DB, REDIS_TLS ("true"/"1").
func RedisOptions() *redis.Options {
    addr := os.Getenv("REDIS_ADDR")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    dbNum := 0
    if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
        dbNum = n
    }
    var tlsConf *tls.Config
    if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    return &redis.Options{
        Addr:      addr,
        Password:  os.Getenv("REDIS_PASSWORD"),
        DB:        dbNum,
        TLSConfig: tlsConf,
    }
}

// NewRedisClient connects and pings Redis with a short timeout.  It returns
// nil when the server is unreachable so callers can degrade gracefully.
func NewRedisClient(logger *zap.Logger) *redis.Client {
    opts := RedisOptions()
    client := redis.NewClient(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        logger.Warn("redis unavailable; cache, rate limit, seat locks and realtime disabled",
            zap.String("addr", opts.Addr), zap.Error(err))
        _ = client.Close()
        return nil
    }
    logger.Info("redis connected", zap.String("addr", opts.Addr))
    return client
}
