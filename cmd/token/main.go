// Command token mints a bearer token for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"marketplace-ledger/internal/config"
	"marketplace-ledger/internal/middleware"
)

func main() {
	userID := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", middleware.RoleUser, "user or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	tok, err := middleware.IssueToken(cfg.Auth.JWTSecret, *userID, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
