// funding-token mints an HMAC-signed bearer token for a wallet address so
// operators can call the funding API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coopledger/funding_layer/internal/app/runtime"
	"github.com/coopledger/funding_layer/internal/middleware"
)

func main() {
	address := flag.String("address", "", "wallet address to issue the token for")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to the configured value)")
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if *address == "" {
		fmt.Fprintln(os.Stderr, "usage: funding-token -address <wallet> [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := runtime.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	token, err := middleware.IssueToken([]byte(cfg.Auth.Secret), *address, lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
