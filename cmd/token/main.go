package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to $JWT_SECRET)")
	userID := flag.String("user", "", "User ID")
	username := flag.String("username", "", "Username")
	role := flag.String("role", string(models.RoleCustomer), "Role: customer, agent or super-agent")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	if *secret == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <user-id> [-username <name>] [-role <role>] [-ttl 1h] [-secret <secret>]")
		fmt.Fprintln(os.Stderr, "  Reads the secret from JWT_SECRET if -secret not specified")
		os.Exit(1)
	}

	r := models.Role(*role)
	if !r.Valid() {
		fmt.Fprintf(os.Stderr, "Invalid role: %s\n", *role)
		os.Exit(1)
	}

	issuer, err := crypto.NewTokenIssuer(*secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid secret: %v\n", err)
		os.Exit(1)
	}

	token, claims, err := issuer.Issue(*userID, *username, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	// Output headers
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Printf("X-Token-ID: %s\n", claims.ID)
	fmt.Printf("X-Token-Expires: %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
