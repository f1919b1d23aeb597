// ABOUTME: bootstrap and token subcommands
// ABOUTME: Create the owner principal and issue or revoke OAuth bearer tokens offline

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/toolbridge/internal/config"
	"github.com/2389/toolbridge/internal/oauth"
	"github.com/2389/toolbridge/internal/store"
)

// defaultTokenTTL applies to bootstrap tokens and to token issue without --ttl.
const defaultTokenTTL = 30 * 24 * time.Hour

// parseFlags reads "--flag value" and "--flag=value" pairs. Every flag
// takes a value; short aliases map onto their long names.
func parseFlags(args []string, allowed map[string]string) (map[string]string, []string, error) {
	values := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		long, ok := allowed[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown flag: %s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("%s requires a value", long)
			}
			value = args[i+1]
			i++
		}
		values[long] = value
	}
	return values, positional, nil
}

// runBootstrap performs first-time setup:
// 1. Creates config file with a random JWT secret (if not exists)
// 2. Creates database and owner principal
// 3. Issues a bearer token for the owner covering every known scope
//
// This is a one-command setup: toolbridge bootstrap --name "Your Name"
func runBootstrap(ctx context.Context, args []string) error {
	flags, positional, err := parseFlags(args, map[string]string{
		"--name": "--name",
		"-n":     "--name",
	})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	displayName := strings.TrimSpace(flags["--name"])
	if displayName == "" {
		return errors.New("--name flag is required")
	}
	if len(displayName) > 100 {
		return errors.New("display name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeBootstrapConfig(configPath, dataPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.OAuth.TokenStore != config.TokenStoreSQLite {
		return fmt.Errorf("bootstrap needs oauth.token_store %q, got %q", config.TokenStoreSQLite, cfg.OAuth.TokenStore)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("checking principals: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d principal(s) exist", count)
	}

	principal := &store.Principal{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Status:      store.PrincipalStatusActive,
		Roles:       []string{"owner"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePrincipal(ctx, principal); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}

	green.Printf("  ✓ Created owner principal: %s\n", displayName)

	scopes := make([]string, 0, len(oauth.ScopeDefinitions))
	for _, sc := range oauth.ScopeDefinitions {
		scopes = append(scopes, sc.Name)
	}

	value, tok, err := oauth.NewSQLTokenStore(s).Issue(ctx, oauth.IssueRequest{
		PrincipalID: principal.ID,
		ClientID:    "toolbridge-cli",
		Scopes:      scopes,
		TTL:         defaultTokenTTL,
	})
	if err != nil {
		// Leave no half-bootstrapped principal behind
		_ = s.DeletePrincipal(ctx, principal.ID)
		return fmt.Errorf("issuing token: %w", err)
	}

	tokenPath := getTokenPath()
	if err := os.WriteFile(tokenPath, []byte(value), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner Principal")
	cyan.Println("  ---------------")
	fmt.Printf("  ID:           %s\n", principal.ID)
	fmt.Printf("  Display Name: %s\n", displayName)
	fmt.Printf("  Status:       %s\n", principal.Status)
	fmt.Printf("  Roles:        owner\n")
	fmt.Printf("  Scopes:       %s\n", strings.Join(tok.Scopes, " "))
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, tok.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    toolbridge serve    # start the server")
	fmt.Println("    toolbridge tools    # list the tools your token can see")
	fmt.Println()

	return nil
}

func writeBootstrapConfig(configPath, dataPath string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# toolbridge configuration
# Generated by toolbridge bootstrap

server:
  http_addr: "localhost:8080"
  public_url: "http://localhost:8080"

database:
  path: %q

auth:
  jwt_secret: %q

oauth:
  token_store: "sqlite"

examples:
  enabled: true

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "toolbridge.db"), jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// runToken dispatches "token issue" and "token revoke".
func runToken(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: toolbridge token issue --principal ID [--scopes a,b] [--ttl 720h] [--client NAME] | token revoke TOKEN")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.OAuth.TokenStore != config.TokenStoreSQLite {
		return fmt.Errorf("tokens can only be managed offline with oauth.token_store %q", config.TokenStoreSQLite)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	switch args[0] {
	case "issue":
		return runTokenIssue(ctx, s, args[1:])
	case "revoke":
		return runTokenRevoke(ctx, s, args[1:])
	default:
		return fmt.Errorf("unknown token command: %s", args[0])
	}
}

func runTokenIssue(ctx context.Context, s *store.SQLiteStore, args []string) error {
	flags, positional, err := parseFlags(args, map[string]string{
		"--principal": "--principal",
		"-p":          "--principal",
		"--scopes":    "--scopes",
		"-s":          "--scopes",
		"--ttl":       "--ttl",
		"--client":    "--client",
	})
	if err != nil {
		return err
	}
	if len(positional) > 0 {
		return fmt.Errorf("unexpected argument: %s", positional[0])
	}

	principalID := flags["--principal"]
	if principalID == "" {
		return errors.New("--principal flag is required")
	}
	p, err := s.GetPrincipal(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("principal %s not found", principalID)
	}
	if err != nil {
		return fmt.Errorf("loading principal: %w", err)
	}
	if p.Status != store.PrincipalStatusActive {
		return fmt.Errorf("principal %s is %s", principalID, p.Status)
	}

	ttl := defaultTokenTTL
	if raw := flags["--ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing --ttl %q: %w", raw, err)
		}
	}

	scopes := strings.FieldsFunc(flags["--scopes"], func(r rune) bool { return r == ',' || r == ' ' })

	clientID := flags["--client"]
	if clientID == "" {
		clientID = "toolbridge-cli"
	}

	value, tok, err := oauth.NewSQLTokenStore(s).Issue(ctx, oauth.IssueRequest{
		PrincipalID: principalID,
		ClientID:    clientID,
		Scopes:      scopes,
		TTL:         ttl,
	})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Issued token for %s\n", p.DisplayName)
	fmt.Printf("  Scopes:  %s\n", strings.Join(tok.Scopes, " "))
	fmt.Printf("  Expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println(value)
	return nil
}

func runTokenRevoke(ctx context.Context, s *store.SQLiteStore, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: toolbridge token revoke TOKEN")
	}
	if err := s.RevokeToken(ctx, args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("token not found")
		}
		return fmt.Errorf("revoking token: %w", err)
	}
	color.New(color.FgGreen).Println("  ✓ Token revoked")
	return nil
}
