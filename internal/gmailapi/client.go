// Package gmailapi is the authenticated Gmail REST transport: OAuth2
// bootstrap, message/history/label/thread operations, the batch-get
// retry protocol, and MIME parsing of raw messages.
package gmailapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes requested for the Gmail service, per the external interface contract.
var Scopes = []string{
	gmailv1.GmailModifyScope,
	"openid",
	"email",
	"profile",
}

// Transport wraps an authenticated Gmail service and exposes the operations
// required by the ingestion engine and search/analytics layers.
type Transport struct {
	svc *gmailv1.Service
}

// NewTransport builds a Transport from credentials and a cached/refreshed
// token on disk, using a file-based OAuth bootstrap. If
// refreshToken is non-empty, it is used directly (no interactive flow),
// the path a headless service process takes once provisioned.
func NewTransport(ctx context.Context, credentialsPath, tokenPath, refreshToken string) (*Transport, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credentialsPath, err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	if refreshToken != "" {
		tok := &oauth2.Token{RefreshToken: refreshToken}
		client := cfg.Client(ctx, tok)
		svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return &Transport{svc: svc}, nil
	}

	tok, err := readToken(tokenPath)
	if err == nil {
		client := cfg.Client(ctx, tok)
		svc, svcErr := gmailv1.NewService(ctx, option.WithHTTPClient(client))
		if svcErr == nil {
			if _, probeErr := svc.Users.GetProfile("me").Do(); probeErr == nil {
				return &Transport{svc: svc}, nil
			}
		}
		log.Warn().Str("token_path", tokenPath).Msg("cached gmail token invalid, re-authenticating")
		os.Remove(tokenPath)
	}

	tok, err = getTokenFromWebCLI(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("interactive oauth flow: %w", ErrAuth(err))
	}
	if err := saveToken(tokenPath, tok); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	client := cfg.Client(ctx, tok)
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Transport{svc: svc}, nil
}

// NewTransportFromService wraps an already-constructed Gmail service,
// primarily for tests that stub the underlying HTTP round tripper.
func NewTransportFromService(svc *gmailv1.Service) *Transport {
	return &Transport{svc: svc}
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

// getTokenFromWebCLI runs a loopback HTTP server to capture the redirect,
// falling back to a manual code/URL paste if nothing arrives within 120s.
func getTokenFromWebCLI(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	type result struct {
		code string
		err  error
	}
	resCh := make(chan result, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		port := ln.Addr().(*net.TCPAddr).Port
		redirect := fmt.Sprintf("http://127.0.0.1:%d/", port)
		oldRedirect := cfg.RedirectURL
		cfg.RedirectURL = redirect

		mux := http.NewServeMux()
		srv := &http.Server{ReadHeaderTimeout: 5 * time.Second, Handler: mux}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authentication complete. You can close this window.")
			select {
			case resCh <- result{code: code}:
			default:
			}
			go func() { _ = srv.Shutdown(context.Background()) }()
		})
		go func() { _ = srv.Serve(ln) }()

		authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintln(os.Stderr, "Open this URL to authorize:")
		fmt.Fprintln(os.Stderr, authURL)

		select {
		case <-ctx.Done():
			cfg.RedirectURL = oldRedirect
			return nil, ctx.Err()
		case r := <-resCh:
			cfg.RedirectURL = oldRedirect
			if r.err != nil {
				return nil, r.err
			}
			return cfg.Exchange(ctx, strings.TrimSpace(r.code))
		case <-time.After(120 * time.Second):
			cfg.RedirectURL = oldRedirect
			fmt.Fprintln(os.Stderr, "Timeout waiting for redirect; falling back to manual paste.")
		}
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprint(os.Stderr, "Paste the AUTH CODE or the full redirect URL: ")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	input := strings.TrimSpace(sc.Text())
	if input == "" {
		return nil, errors.New("empty authorization code")
	}
	code := input
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return nil, fmt.Errorf("parse redirect URL: %w", err)
		}
		c := u.Query().Get("code")
		if c == "" {
			return nil, errors.New("no 'code' parameter found in pasted URL")
		}
		code = c
	}
	return cfg.Exchange(ctx, code)
}
