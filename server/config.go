package main

import (
	"fmt"
	"os"
	"time"

	"github.com/itskum47/shopfloor/server/scheduler"
)

// Config is the environment-driven server configuration.
type Config struct {
	ListenAddr  string
	DatabaseURL string // empty selects the in-memory store

	RedisAddr     string // empty disables the live cache and idempotent replay
	RedisPassword string
	RedisDB       int

	ShiftWindow    scheduler.Window
	ScheduleBudget time.Duration

	CORSOrigins []string
}

// LoadConfig reads the environment. Missing values fall back to dev
// defaults; an unparsable shift window is a startup error.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:     ":8080",
		ShiftWindow:    scheduler.DefaultWindow(),
		ScheduleBudget: 30 * time.Second,
		CORSOrigins:    []string{"*"},
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		fmt.Sscanf(dbStr, "%d", &cfg.RedisDB)
	}

	start, end := os.Getenv("SHIFT_START"), os.Getenv("SHIFT_END")
	if start != "" || end != "" {
		if start == "" {
			start = "09:00"
		}
		if end == "" {
			end = "17:00"
		}
		w, err := scheduler.ParseWindow(start, end)
		if err != nil {
			return cfg, err
		}
		cfg.ShiftWindow = w
	}

	if budgetStr := os.Getenv("SCHEDULE_BUDGET_SECONDS"); budgetStr != "" {
		var seconds int
		fmt.Sscanf(budgetStr, "%d", &seconds)
		if seconds > 0 {
			cfg.ScheduleBudget = time.Duration(seconds) * time.Second
		}
	}

	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		cfg.CORSOrigins = []string{origin}
	}
	return cfg, nil
}
