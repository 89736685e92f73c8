package directory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/crewsync/backend/config"
	"github.com/crewsync/backend/pkg/redis"
)

const tokenCacheKey = "directory:access_token"

// tokenSource fetches management-API access tokens via the OAuth client
// credentials grant and caches them in Redis so every process instance
// shares one token per rotation instead of minting its own.
type tokenSource struct {
	cc     clientcredentials.Config
	rdb    *redis.Client
	logger *zap.Logger
}

func newTokenSource(cfg config.DirectoryConfig, rdb *redis.Client, logger *zap.Logger) *tokenSource {
	return &tokenSource{
		cc: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			EndpointParams: map[string][]string{
				"audience": {cfg.Audience},
			},
			AuthStyle: oauth2.AuthStyleInParams,
		},
		rdb:    rdb,
		logger: logger,
	}
}

// Token returns a valid access token, preferring the shared cached one.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	if ts.rdb != nil {
		if cached, err := ts.rdb.Get(ctx, tokenCacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	tok, err := ts.cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("directory token: %w", err)
	}

	if ts.rdb != nil {
		ttl := time.Until(tok.Expiry) - time.Minute
		if ttl > 0 {
			if err := ts.rdb.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err(); err != nil {
				ts.logger.Warn("cache directory token", zap.Error(err))
			}
		}
	}
	return tok.AccessToken, nil
}
