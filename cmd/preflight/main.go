// Command preflight checks a deployment's environment before the workers start.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hamed0406/uptimepipeline/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg := config.FromEnv()

	if cfg.RegistryURL == "" {
		fail("USER_SERVICE_URL is empty (the scheduler has nothing to sync).")
	}
	ok("USER_SERVICE_URL=" + cfg.RegistryURL)

	switch cfg.StateBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			fail("STATE_BACKEND=postgres but DATABASE_URL is empty.")
		}
	case "redis", "sqlite", "memory":
	default:
		fail("STATE_BACKEND=" + cfg.StateBackend + " is not one of redis|postgres|sqlite|memory.")
	}
	switch cfg.LockBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			fail("LOCK_BACKEND=postgres but DATABASE_URL is empty.")
		}
	case "redis", "memory":
	default:
		fail("LOCK_BACKEND=" + cfg.LockBackend + " is not one of redis|postgres|memory.")
	}
	ok("STATE_BACKEND=" + cfg.StateBackend + " LOCK_BACKEND=" + cfg.LockBackend)

	if len(cfg.KafkaBrokers) > 0 {
		ok("KAFKA_BROKER=" + strings.Join(cfg.KafkaBrokers, ","))
	}
	for name, v := range map[string]string{
		"ADMIN_API_KEYS":  os.Getenv("ADMIN_API_KEYS"),
		"PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS"),
	} {
		if strings.TrimSpace(v) == "" {
			warn(name + " is empty; the status API will reject every request.")
		}
	}
	for _, w := range cfg.Warnings() {
		warn(w)
	}

	ok("preflight passed")
}
