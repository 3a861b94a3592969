// Package webhooks receives signed-bundle callbacks from the signing
// provider and resumes the waiting bundle exactly once.
//
// Callback processing is driven by a claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// This makes retries and crash-recovery explicit and prevents transient
// failures from being deduped as permanently processed.
package webhooks
