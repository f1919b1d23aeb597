// ABOUTME: Entry point for the toolbridge server and its admin commands
// ABOUTME: Serves registered procedures as OAuth-gated tools

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/toolbridge/internal/config"
	"github.com/2389/toolbridge/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _ _          _     _
 | |_ ___   ___ | | |__  _ __(_) __| | __ _  ___
 | __/ _ \ / _ \| | '_ \| '__| |/ _' |/ _' |/ _ \
 | || (_) | (_) | | |_) | |  | | (_| | (_| |  __/
  \__\___/ \___/|_|_.__/|_|  |_|\__,_|\__, |\___|
                                      |___/
`

// getConfigPath returns the path to the config file.
// Priority: TOOLBRIDGE_CONFIG env var > XDG_CONFIG_HOME/toolbridge/config.yaml > ~/.config/toolbridge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolbridge", "config.yaml")
}

// getDataPath returns the path to the toolbridge data directory.
// Priority: XDG_DATA_HOME/toolbridge > ~/.local/share/toolbridge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "toolbridge")
}

// getTokenPath returns where bootstrap saves the owner's bearer token.
func getTokenPath() string {
	return filepath.Join(filepath.Dir(getConfigPath()), "token")
}

func usage() {
	fmt.Println("Usage: toolbridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the tool server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  bootstrap --name NAME  Create initial owner principal and token")
	fmt.Println("  token issue|revoke     Manage OAuth bearer tokens")
	fmt.Println("  health                 Check server health")
	fmt.Println("  tools                  List tools visible to the saved token")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "tools":
		err = runTools(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	if cfg.OAuth.Resource != "" {
		green.Print("    ▶ ")
		fmt.Printf("Resource:  %s\n", cfg.OAuth.Resource)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting toolbridge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"examples", cfg.Examples.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// serverURL builds a URL on the configured HTTP listener.
func serverURL(cfg *config.Config, path string) string {
	return (&url.URL{Scheme: "http", Host: cfg.Server.HTTPAddr, Path: path}).String()
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(cfg, "/health/ready"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runTools lists every tool visible to the saved bearer token, following
// pagination cursors until the last page.
func runTools(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := os.ReadFile(getTokenPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading token file: %w", err)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cursor := ""
	count := 0
	for {
		page, err := fetchToolPage(ctx, cfg, strings.TrimSpace(string(token)), cursor)
		if err != nil {
			return err
		}
		for _, t := range page.Tools {
			cyan.Printf("  %s", t.Name)
			if t.Title != "" {
				fmt.Printf("  %s", t.Title)
			}
			fmt.Println()
			if t.Description != "" {
				gray.Printf("      %s\n", t.Description)
			}
			count++
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	fmt.Printf("\n%d tool(s)\n", count)
	return nil
}

type toolPage struct {
	Tools []struct {
		Name        string `json:"name"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"tools"`
	NextCursor *string `json:"nextCursor"`
}

func fetchToolPage(ctx context.Context, cfg *config.Config, token, cursor string) (*toolPage, error) {
	target := serverURL(cfg, "/tools/list")
	if cursor != "" {
		target += "?cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("listing tools: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page toolPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding tool list: %w", err)
	}
	return &page, nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("toolbridge configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "toolbridge.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	publicURL := prompt(reader, "Public URL (used in OAuth challenges)", "http://"+httpAddr)
	grpcAddr := prompt(reader, "gRPC health address (leave empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- OAuth Configuration ---")
	resourceName := prompt(reader, "Resource name", "MCP Tools")
	authServer := prompt(reader, "Authorization server URL (leave empty for none)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "toolbridge")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Features ---")
	examples := yes(prompt(reader, "Register example tools?", "yes"))
	metrics := yes(prompt(reader, "Enable Prometheus metrics?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# toolbridge configuration\n")
	cfg.WriteString("# Generated by toolbridge init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	fmt.Fprintf(&cfg, "  public_url: %q\n", publicURL)
	if grpcAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("oauth:\n")
	fmt.Fprintf(&cfg, "  resource_name: %q\n", resourceName)
	if authServer != "" {
		cfg.WriteString("  authorization_servers:\n")
		fmt.Fprintf(&cfg, "    - %q\n", authServer)
	}
	cfg.WriteString("  token_store: \"sqlite\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("discovery:\n")
	fmt.Fprintf(&cfg, "  page_size: %d\n", config.DefaultPageSize)
	cfg.WriteString("  cache_ttl: \"5m\"\n")
	fmt.Fprintf(&cfg, "  http_max_age: %d\n", config.DefaultHTTPMaxAge)
	cfg.WriteString("\n")

	cfg.WriteString("dispatch:\n")
	fmt.Fprintf(&cfg, "  timeout: %q\n", config.DefaultDispatchTimeout.String())
	cfg.WriteString("\n")

	cfg.WriteString("examples:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", examples)
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", metrics)
	fmt.Fprintf(&cfg, "  path: %q\n", config.DefaultMetricsPath)

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  toolbridge serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}
