package restreamer

import (
	"context"
	"errors"
	"time"

	"streamguard/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// expirySkew treats tokens that expire this soon as already expired.
	expirySkew = 30 * time.Second

	// defaultTokenTTL bounds how long tokens without a readable exp claim
	// stay cached.
	defaultTokenTTL = 10 * time.Minute
)

var tokenParser = jwt.NewParser()

// tokenExpiry reads the exp claim without verifying the signature; the
// token is only ever sent back to the server that issued it.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := tokenParser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// usable reports whether the token can still be sent. Tokens without a
// readable expiry are trusted until the server rejects them.
func usable(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	exp, ok := tokenExpiry(token)
	if !ok {
		return true
	}
	return now.Add(expirySkew).Before(exp)
}

// cacheTTL is how long a pair may live in the token store.
func cacheTTL(tokens domain.TokenPair, now time.Time, fallback time.Duration) time.Duration {
	exp, ok := tokenExpiry(tokens.RefreshToken)
	if !ok {
		exp, ok = tokenExpiry(tokens.AccessToken)
	}
	if !ok {
		return fallback
	}
	if ttl := exp.Sub(now); ttl > 0 {
		return ttl
	}
	return time.Second
}

func (r *Restreamer) cacheKey() string {
	return "restreamer:" + r.BaseURL + ":" + r.Username
}

// session returns tokens for the next request. Without a token store every
// call performs a fresh login. With one, a cached access token is reused
// while valid, then the refresh token is tried, then a full login.
func (r *Restreamer) session(ctx context.Context, client *Client) (domain.TokenPair, error) {
	d := r.deps()
	if d.tokens == nil {
		return r.login(ctx, client)
	}

	key := r.cacheKey()
	now := d.now()

	cached, ok, err := d.tokens.Get(ctx, key)
	if err != nil {
		d.logger.Warnw("token store lookup failed", "key", key, "error", err)
	}
	if err == nil && ok {
		if usable(cached.AccessToken, now) {
			return cached, nil
		}
		if usable(cached.RefreshToken, now) {
			access, err := client.Refresh(ctx, cached.RefreshToken)
			if err == nil {
				cached.AccessToken = access
				r.storeTokens(ctx, cached)
				d.logger.Debugw("refreshed restreamer access token", "base_url", r.BaseURL)
				return cached, nil
			}
			d.logger.Warnw("token refresh failed, logging in again", "base_url", r.BaseURL, "error", err)
		}
	}

	return r.login(ctx, client)
}

func (r *Restreamer) login(ctx context.Context, client *Client) (domain.TokenPair, error) {
	tokens, err := client.Login(ctx, r.Username, r.Password)
	if err != nil {
		return domain.TokenPair{}, err
	}
	r.storeTokens(ctx, tokens)
	r.deps().logger.Infow("got jwt tokens", "base_url", r.BaseURL)
	return tokens, nil
}

func (r *Restreamer) storeTokens(ctx context.Context, tokens domain.TokenPair) {
	d := r.deps()
	if d.tokens == nil {
		return
	}
	if err := d.tokens.Set(ctx, r.cacheKey(), tokens, cacheTTL(tokens, d.now(), d.tokenTTL)); err != nil {
		d.logger.Warnw("token store write failed", "error", err)
	}
}

func (r *Restreamer) dropTokens(ctx context.Context) {
	d := r.deps()
	if d.tokens == nil {
		return
	}
	if err := d.tokens.Delete(ctx, r.cacheKey()); err != nil {
		d.logger.Warnw("token store delete failed", "error", err)
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
