package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yungbote/chatrelay/internal/auth"
)

// mint_token prints an HS256 session token accepted by AUTH_MODE=jwt, for local testing.
func main() {
	var userID, email, secret string
	var ttl time.Duration
	flag.StringVar(&userID, "user", "", "user id (token subject)")
	flag.StringVar(&email, "email", "", "user email claim")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET_KEY"), "signing secret (defaults to JWT_SECRET_KEY)")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	if strings.TrimSpace(userID) == "" {
		fmt.Println("-user is required")
		os.Exit(2)
	}
	resolver, err := auth.NewJWTResolver(secret, "")
	if err != nil {
		fmt.Printf("init resolver: %v\n", err)
		os.Exit(1)
	}
	token, err := resolver.Sign(userID, email, ttl)
	if err != nil {
		fmt.Printf("sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
