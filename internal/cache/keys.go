package cache

import "strings"

// Every key lives under one namespace so the service can share a Redis
// database with other apps.
const namespace = "mf"

func key(parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// PredictionStatusKey holds the last status the webhook applied.
func PredictionStatusKey(predictionID string) string {
	return key("prediction", predictionID, "status")
}

// PredictionLockKey serialises deliveries for one prediction.
func PredictionLockKey(predictionID string) string {
	return key("lock", "prediction", predictionID)
}

// Rate limit buckets.
const (
	BucketAPI         = "api"
	BucketGenerations = "generations"
)

func RateLimitKey(bucket, subject string) string {
	return key("ratelimit", bucket, subject)
}

func CronLockKey(job string) string {
	return key("lock", "cron", job)
}
