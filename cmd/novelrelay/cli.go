package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/chunk"
	"github.com/golden-h/novelrelay/internal/config"
	"github.com/golden-h/novelrelay/internal/protocol"
)

func printHelp() {
	fmt.Printf(`novelrelay %s - chapter translation relay between browser tabs

MODES:
  novelrelay                      Start the daemon (default port 9870)
  novelrelay config init|show     Manage ~/.novelrelay/config.json

CLI (requires running daemon):
  novelrelay health               Daemon status
  novelrelay tabs                 Open tabs with their role and script
  novelrelay roles                Role bindings
  novelrelay transfers            Chunked translations in flight
  novelrelay translate [tabId]    Send a reading tab's chapter for translation
  novelrelay post [tabId]         Post a reading tab's translation
  novelrelay autorun [tabId]      Translate, then post when the result arrives
  novelrelay deliver <file|->     Deliver a translation as if an assistant tab sent it
        [--sender ID] [--chunk N]

ENVIRONMENT:
  RELAY_URL          Daemon URL (default: http://127.0.0.1:9870)
  RELAY_TOKEN        Auth token (sent as Bearer)
  RELAY_PORT         Daemon port (default: 9870)
  RELAY_HEADLESS     Run Chrome headless (default: false)
  RELAY_SITES        YAML file with site profiles
`, version)
}

var cliCommands = map[string]bool{
	"health": true, "tabs": true, "roles": true, "transfers": true, "scripts": true,
	"translate": true, "post": true, "autorun": true,
	"deliver": true, "help": true,
}

func isCLICommand(cmd string) bool {
	return cliCommands[cmd]
}

// cliTarget resolves the daemon URL and token, letting RELAY_URL override
// the configured bind address.
func cliTarget(cfg *config.RuntimeConfig) (base, token string) {
	base = cfg.BaseURL()
	if envURL := os.Getenv("RELAY_URL"); envURL != "" {
		base = strings.TrimRight(envURL, "/")
	}
	return base, cfg.Token
}

func runCLI(cfg *config.RuntimeConfig, argv []string) {
	cmd, args := argv[0], argv[1:]
	base, token := cliTarget(cfg)
	client := &http.Client{Timeout: cfg.ResultTimeout + 30*time.Second}

	var err error
	switch cmd {
	case "health":
		err = cliGet(os.Stdout, client, base, token, "/health")
	case "tabs", "roles", "transfers", "scripts":
		err = cliGet(os.Stdout, client, base, token, "/"+cmd)
	case "translate", "post", "autorun":
		err = cliCommand(os.Stdout, client, base, token, cmd, args)
	case "deliver":
		err = cliDeliver(context.Background(), os.Stdout, cfg, client, base, token, args)
	case "help":
		printHelp()
	}
	if err != nil {
		fatal("%v", err)
	}
}

func cliGet(w io.Writer, client *http.Client, base, token, path string) error {
	body, err := doGet(client, base, token, path, nil)
	if err != nil {
		return err
	}
	printJSON(w, body)
	return nil
}

func cliCommand(w io.Writer, client *http.Client, base, token, op string, args []string) error {
	body := map[string]any{}
	if len(args) > 0 {
		body["tabId"] = args[0]
	}
	resp, err := doPost(client, base, token, "/"+op, body)
	if err != nil {
		return err
	}
	printJSON(w, resp)
	return nil
}

// cliDeliver ships a translation file to /message the way an assistant tab
// does, in numbered parts when it exceeds the chunk size.
func cliDeliver(ctx context.Context, w io.Writer, cfg *config.RuntimeConfig, client *http.Client, base, token string, args []string) error {
	var (
		path   string
		sender = "cli"
		size   = cfg.ChunkSize
	)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--sender":
			if i+1 < len(args) {
				i++
				sender = args[i]
			}
		case "--chunk":
			if i+1 < len(args) {
				i++
				if _, err := fmt.Sscanf(args[i], "%d", &size); err != nil || size <= 0 {
					return fmt.Errorf("invalid --chunk %q", args[i])
				}
			}
		default:
			path = args[i]
		}
	}
	if path == "" {
		return fmt.Errorf("usage: novelrelay deliver <file|-> [--sender ID] [--chunk N]")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read translation: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("translation in %s is empty", path)
	}

	t := channel.HTTP{BaseURL: base, Token: token, Sender: sender, Client: client}
	opts := channel.Options{MaxRetries: cfg.SendRetries, Timeout: cfg.SendTimeout, RetryDelay: cfg.RetryDelay}
	env := protocol.New(protocol.ActionSendTranslation)

	total := chunk.Count(text, size)
	fmt.Fprintf(w, "delivering %s characters in %d part(s)\n", humanize.Comma(int64(utf8.RuneCountInString(text))), total)
	err = channel.SendChunked(ctx, t, env, text, size, opts, func(sent, total int) {
		fmt.Fprintf(w, "  part %d/%d\n", sent, total)
	})
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	fmt.Fprintln(w, "delivered")
	return nil
}

func doGet(client *http.Client, base, token, path string, params url.Values) ([]byte, error) {
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, err
	}
	return do(client, req, token)
}

func doPost(client *http.Client, base, token, path string, body map[string]any) ([]byte, error) {
	data, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, token)
}

func do(client *http.Client, req *http.Request, token string) ([]byte, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// printJSON pretty-prints body when it is JSON.
func printJSON(w io.Writer, body []byte) {
	var buf bytes.Buffer
	if json.Indent(&buf, body, "", "  ") == nil {
		fmt.Fprintln(w, buf.String())
	} else {
		fmt.Fprintln(w, string(body))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
