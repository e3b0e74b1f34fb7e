package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rkaruturi/PranicSoil-MVP/internal/config"
	"github.com/rkaruturi/PranicSoil-MVP/internal/diag"
	"github.com/rkaruturi/PranicSoil-MVP/internal/session"
	"github.com/rkaruturi/PranicSoil-MVP/internal/supabase"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	client := supabase.NewClient(cfg.SupabaseURL, cfg.AgentFunction)
	sess := session.New(client, client, cfg.SupabaseURL, cfg.AccessToken, cfg.ConnectTimeout)

	kind := session.Anonymous
	if cfg.AccessToken != "" {
		kind = session.Authenticated
	}

	if !sess.Connect(context.Background(), kind, os.Getenv("USER_ID")) {
		reportFailure(sess.LastError(), cfg.UserAgent)
		os.Exit(1)
	}
	fmt.Println("Conversation started. Speak into your microphone; Ctrl+C to hang up.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("shutdown signal received: %v", sig)

	sess.Disconnect()
}

// reportFailure prints the user-facing explanation for a failed connect,
// including per-browser remediation steps when permission was the problem.
func reportFailure(err error, userAgent string) {
	code := diag.Classify(err)
	fmt.Fprintf(os.Stderr, "%s\n%s\n", diag.Title(code), diag.Message(code))
	if code == diag.CodePermissionDenied {
		fmt.Fprintln(os.Stderr, diag.Instructions(diag.DetectBrowser(userAgent)))
	}
	log.Printf("connect failed (%s): %v", code, err)
}
