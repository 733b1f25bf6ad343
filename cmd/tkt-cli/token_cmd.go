package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tickechain/crypto"
	"tickechain/gateway/middleware"
)

const defaultSecretEnv = "TKT_RPC_JWT_SECRET"

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "issue" {
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	fs := newFlagSet("token issue", stderr, tokenUsage())
	var (
		secretEnv string
		subject   string
		scopes    string
		issuer    string
		ttl       time.Duration
	)
	fs.StringVar(&secretEnv, "secret-env", defaultSecretEnv, "environment variable holding the HMAC secret")
	fs.StringVar(&subject, "subject", "", "address the token authenticates")
	fs.StringVar(&scopes, "scope", "", "comma separated scopes, e.g. admin")
	fs.StringVar(&issuer, "issuer", "", "iss claim")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(secretEnv))
	if secret == "" {
		return printError(stderr, fmt.Sprintf("%s is not set", secretEnv))
	}
	if strings.TrimSpace(subject) == "" {
		return printError(stderr, "--subject is required")
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --subject: %v", err))
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	token, err := middleware.SignToken(secret, addr, splitScopes(scopes), issuer, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func splitScopes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage:
  tkt-cli token issue --subject ADDRESS [--scope admin] [--issuer ISS] [--ttl 1h] [--secret-env TKT_RPC_JWT_SECRET]`)
}
