package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	SupabaseURL    string
	AgentFunction  string
	AccessToken    string
	ConnectTimeout time.Duration
	UserAgent      string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	if supabaseURL == "" {
		log.Println("Warning: SUPABASE_URL not set - signed URL requests will not work")
	}

	fn := os.Getenv("AGENT_FUNCTION")
	if fn == "" {
		fn = "elevenlabs-agent"
	}

	accessToken := os.Getenv("SUPABASE_ACCESS_TOKEN")

	timeout := 15 * time.Second
	if raw := os.Getenv("CONNECT_TIMEOUT_SECONDS"); raw != "" {
		if secs, perr := strconv.Atoi(raw); perr == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		} else {
			log.Printf("Warning: invalid CONNECT_TIMEOUT_SECONDS=%q - using default", raw)
		}
	}

	log.Printf("config: SUPABASE_URL=%s AGENT_FUNCTION=%s CONNECT_TIMEOUT=%s", supabaseURL, fn, timeout)
	return Config{
		SupabaseURL:    supabaseURL,
		AgentFunction:  fn,
		AccessToken:    accessToken,
		ConnectTimeout: timeout,
		UserAgent:      os.Getenv("USER_AGENT"),
	}
}
