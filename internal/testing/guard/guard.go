// Package guard switches binaries into test mode when imported by a test.
// It also points the ledger at the in-memory store so that nothing dials
// PostgreSQL, Redis or Kafka.
package guard

import "os"

var defaults = map[string]string{
	"ODYSSEY_TEST_MODE":   "1",
	"LEDGER_STORE":        "memory",
	"LEDGER_LOCK_BACKEND": "local",
	"BALANCE_CACHE_TTL":   "0s",
}

func init() {
	for key, value := range defaults {
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}
