/**
 * @description
 * This file contains custom middleware for the HTTP router: Twilio webhook
 * signature validation, the admin API key gate, and per-IP rate limiting on
 * the public webhook endpoints.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha1, crypto/subtle, encoding/base64, log, net,
 *   net/http, sort, strconv, strings, time: Standard Go libraries.
 * - internal/app: Redis-backed rate limiter.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/afribridge/transfer-service/internal/app"
)

// TwilioSignatureMiddleware validates the X-Twilio-Signature header on
// inbound webhooks: HMAC-SHA1 over the full request URL concatenated with
// the sorted form parameters, base64 encoded. Validation is skipped when no
// auth token is configured (mock messaging mode).
func TwilioSignatureMiddleware(authToken, baseURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := r.ParseForm(); err != nil {
				http.Error(w, "malformed form body", http.StatusBadRequest)
				return
			}

			provided := r.Header.Get("X-Twilio-Signature")
			expected := twilioSignature(authToken, requestURL(r, baseURL), r.PostForm)
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				log.Printf("level=warn component=api msg=\"rejected webhook with bad twilio signature\" remote=%s", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// twilioSignature computes Twilio's webhook signature: the URL followed by
// each POST parameter name and value in sorted order, HMAC-SHA1 signed.
func twilioSignature(authToken, requestURL string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(requestURL)
	for _, key := range keys {
		for _, value := range form[key] {
			builder.WriteString(key)
			builder.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(builder.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// requestURL reconstructs the public URL Twilio signed. The configured base
// URL wins over the Host header because the service usually sits behind a
// proxy.
func requestURL(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return strings.TrimSuffix(baseURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// AdminKeyMiddleware gates operator endpoints behind a shared API key sent
// in the x-admin-key header. Requests are rejected outright when no key is
// configured; an operator surface with no credential stays closed.
func AdminKeyMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}
			provided := r.Header.Get("x-admin-key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware throttles requests per client IP using the Redis
// limiter. A nil limiter disables throttling.
func RateLimitMiddleware(limiter *app.RedisRateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			subject := clientIP(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
			if err != nil {
				// Fail open; rate limiting is protection, not correctness.
				log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if limit > 0 && count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
