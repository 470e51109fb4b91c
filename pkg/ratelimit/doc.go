// Package ratelimit throttles downloads with a shared byte-token bucket that a
// background Limiter refills once per period.
package ratelimit
