package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/aether/internal/util/atomicwrite"
)

// ─── Cliente del admin API ───

type client struct {
	BaseURL   string
	Token     string
	OutFormat string // "json" | "text"
	Redirect  bool   // X-Leader-Redirect: 1
	HTTP      *http.Client
}

func newClientFlags(root *cobra.Command) *client {
	cl := &client{
		BaseURL:   envOr("AETHER_URL", "http://localhost:8080"),
		Token:     os.Getenv("AETHER_TOKEN"),
		OutFormat: envOr("AETHER_OUT", "json"),
		HTTP:      &http.Client{Timeout: 30 * time.Second, CheckRedirect: keepAuthOnRedirect},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cl.BaseURL, "url", cl.BaseURL, "URL base del admin API (env AETHER_URL)")
	pf.StringVar(&cl.Token, "token", cl.Token, "access token (env AETHER_TOKEN, default: el guardado por login)")
	pf.StringVar(&cl.OutFormat, "out", cl.OutFormat, "formato de salida: json|text")
	pf.BoolVar(&cl.Redirect, "follow-leader", true, "pedir 307 al líder en escrituras sobre un follower")
	return cl
}

// keepAuthOnRedirect reenvía el token en el 307 hacia el líder: net/http lo
// descarta cuando el host cambia.
func keepAuthOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 3 {
		return errors.New("too many leader redirects")
	}
	if auth := via[0].Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return nil
}

// tokenFile es donde login guarda el token.
func tokenFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "aether", "token"), nil
}

func (c *client) token() string {
	if c.Token != "" {
		return c.Token
	}
	if p, err := tokenFile(); err == nil {
		if b, err := os.ReadFile(p); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return ""
}

func (c *client) request(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if c.Redirect && method != http.MethodGet {
		req.Header.Set("X-Leader-Redirect", "1")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	req, err := c.request(ctx, method, path, body, headers)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, b, apiError(resp, b)
	}
	return resp.StatusCode, b, nil
}

func apiError(resp *http.Response, body []byte) error {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Code != "" {
		msg := fmt.Sprintf("%s (%d): %s", e.Code, resp.StatusCode, e.Message)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		if l := resp.Header.Get("X-Leader"); l != "" {
			msg += " [leader=" + l + "]"
		}
		return errors.New(msg)
	}
	return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *client) print(body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	fmt.Println(strings.TrimSpace(string(body)))
}

// readPayload toma --payload literal o --file (- = stdin).
func readPayload(payload, file string) (json.RawMessage, error) {
	switch {
	case payload != "" && file != "":
		return nil, errors.New("use --payload or --file, not both")
	case payload != "":
		return validJSON([]byte(payload))
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return validJSON(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return validJSON(b)
	}
	return nil, errors.New("--payload or --file is required")
}

func validJSON(b []byte) (json.RawMessage, error) {
	if !json.Valid(b) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(b), nil
}

// ─── Comandos ───

func newLoginCmd(cl *client) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtiene un access token y lo guarda para los demás comandos",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password (or AETHER_PASSWORD) are required")
			}
			_, body, err := cl.do(cmd.Context(), http.MethodPost, "/v1/auth/login",
				map[string]string{"username": username, "password": password}, nil)
			if err != nil {
				return err
			}
			var out struct {
				AccessToken string    `json:"access_token"`
				ExpiresAt   time.Time `json:"expires_at"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}
			p, err := tokenFile()
			if err != nil {
				return err
			}
			if err := atomicwrite.WriteFile(p, []byte(out.AccessToken+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Printf("logged in as %s (token saved to %s, expires %s)\n", username, p, out.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("AETHER_USERNAME"), "usuario")
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("AETHER_PASSWORD"), "contraseña")
	return cmd
}

func newGetCmd(cl *client) *cobra.Command {
	var version uint64
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Muestra la última versión (o --version N) de una configuración",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/configs/" + url.PathEscape(args[0])
			if version > 0 {
				path += "?version=" + strconv.FormatUint(version, 10)
			}
			_, body, err := cl.do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&version, "version", 0, "versión puntual (0 = última)")
	return cmd
}

func newCreateCmd(cl *client) *cobra.Command {
	var schemaID, payload, file string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Crea la versión 1 de una configuración",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			_, body, err := cl.do(cmd.Context(), http.MethodPost, "/v1/configs",
				map[string]any{"name": args[0], "schemaId": schemaID, "payload": p}, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaID, "schema", "", "schema id (vacío = any)")
	cmd.Flags().StringVar(&payload, "payload", "", "payload JSON literal")
	cmd.Flags().StringVarP(&file, "file", "f", "", "archivo con el payload JSON (- = stdin)")
	return cmd
}

func newUpdateCmd(cl *client) *cobra.Command {
	var payload, file string
	var expected uint64
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Publica una nueva versión; --expected aplica control optimista",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			req := map[string]any{"payload": p}
			if cmd.Flags().Changed("expected") {
				req["expectedVersion"] = expected
			}
			_, body, err := cl.do(cmd.Context(), http.MethodPut, "/v1/configs/"+url.PathEscape(args[0]), req, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "payload JSON literal")
	cmd.Flags().StringVarP(&file, "file", "f", "", "archivo con el payload JSON (- = stdin)")
	cmd.Flags().Uint64Var(&expected, "expected", 0, "versión esperada como última")
	return cmd
}

func newVersionsCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <name>",
		Short: "Lista la metadata de todas las versiones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, body, err := cl.do(cmd.Context(), http.MethodGet, "/v1/configs/"+url.PathEscape(args[0])+"/versions", nil, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
}

func newStatusCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Estado de consenso del nodo",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, body, err := cl.do(cmd.Context(), http.MethodGet, "/v1/cluster/status", nil, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
}

// newWatchCmd imprime cada evento SSE de una configuración hasta Ctrl-C.
func newWatchCmd(cl *client) *cobra.Command {
	var since uint64
	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Sigue los cambios de una configuración",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/configs/" + url.PathEscape(args[0]) + "/watch"
			if since > 0 {
				path += "?since=" + strconv.FormatUint(since, 10)
			}
			req, err := cl.request(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			// sin timeout: el stream es largo
			resp, err := (&http.Client{Transport: cl.HTTP.Transport, CheckRedirect: keepAuthOnRedirect}).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return apiError(resp, b)
			}
			sc := bufio.NewScanner(resp.Body)
			for sc.Scan() {
				if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
					cl.print([]byte(data))
				}
			}
			if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "reenviar versiones posteriores a esta")
	return cmd
}
