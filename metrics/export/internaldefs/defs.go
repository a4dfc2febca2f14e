package internaldefs

import (
	"github.com/MrEthical07/credpool"
)

// CounterDef binds a pool counter to its exported name.
type CounterDef struct {
	ID   credpool.MetricID
	Name string
	Help string
}

// HistogramDef binds a pool histogram to its exported name.
type HistogramDef struct {
	ID   credpool.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: credpool.MetricAccountSelected, Name: "credpool_account_selected_total", Help: "Accounts selected for a call."},
	{ID: credpool.MetricNoAvailableAccount, Name: "credpool_no_available_account_total", Help: "Selections that found no eligible account."},
	{ID: credpool.MetricAccountRateLimited, Name: "credpool_account_rate_limited_total", Help: "Accounts moved to rate-limited."},
	{ID: credpool.MetricRequestSuccess, Name: "credpool_request_success_total", Help: "Calls reported successful."},
	{ID: credpool.MetricRequestFailure, Name: "credpool_request_failure_total", Help: "Calls and sign-ins reported failed."},
	{ID: credpool.MetricUpstreamRateLimitHit, Name: "credpool_upstream_rate_limit_hit_total", Help: "Rate or quota rejections returned by the upstream."},
	{ID: credpool.MetricAuthFailure, Name: "credpool_auth_failure_total", Help: "Credential rejections returned by the upstream."},
	{ID: credpool.MetricRetry, Name: "credpool_retry_total", Help: "Retried attempts within Do."},
	{ID: credpool.MetricRetryExhausted, Name: "credpool_retry_exhausted_total", Help: "Do calls that used up their retry budget."},
	{ID: credpool.MetricValidationSuccess, Name: "credpool_validation_success_total", Help: "Accepted credential checks."},
	{ID: credpool.MetricValidationFailure, Name: "credpool_validation_failure_total", Help: "Rejected credential checks."},
	{ID: credpool.MetricValidationTimeout, Name: "credpool_validation_timeout_total", Help: "Credential checks that timed out."},
	{ID: credpool.MetricTokenCacheHit, Name: "credpool_token_cache_hit_total", Help: "Sign-ins avoided by the token cache."},
	{ID: credpool.MetricTokenCacheMiss, Name: "credpool_token_cache_miss_total", Help: "Sign-ins performed."},
	{ID: credpool.MetricAccountAdded, Name: "credpool_account_added_total", Help: "Accounts added."},
	{ID: credpool.MetricAccountRemoved, Name: "credpool_account_removed_total", Help: "Accounts removed."},
	{ID: credpool.MetricRateLimitReset, Name: "credpool_rate_limit_reset_total", Help: "Administrative rate-limit resets."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: credpool.MetricSignInLatency, Name: "credpool_signin_latency_seconds", Help: "Upstream sign-in latency."},
	{ID: credpool.MetricWaitLatency, Name: "credpool_wait_latency_seconds", Help: "Time spent waiting for an available account."},
}

// HistogramBounds are the upper bounds of the fixed buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in OTel counter names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
