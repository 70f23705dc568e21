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
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/ent0n29/calchat/internal/app"
	"github.com/ent0n29/calchat/internal/dialogue"
	"github.com/spf13/cobra"
)

type chatClient interface {
	Send(ctx context.Context, message string) (dialogue.Response, error)
	Clear(ctx context.Context) error
	Close() error
}

type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

func newChatCmd(load configLoader) *cobra.Command {
	var (
		serverURL string
		user      string
		local     bool
		plain     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long:  "chat opens an interactive prompt. By default it talks to a running server; --local runs the engine in-process against the configured stores.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			var client chatClient
			if local {
				built, err := app.Build(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				client = &localClient{engine: built.Engine, key: user, cleanup: built.Cleanup}
			} else {
				base := serverURL
				if base == "" {
					base = cfg.PublicURL
				}
				client = newHTTPClient(base, user, cfg.ExternalCallTimeout*2)
			}
			defer client.Close()

			in, err := newLineInput(historyPath(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer in.Close()

			render := renderMarkdown
			if plain {
				render = func(content string, _ int) string { return content + "\n" }
			}
			return runChat(cmd.Context(), client, in, cmd.OutOrStdout(), render)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (defaults to APP_PUBLIC_URL)")
	cmd.Flags().StringVar(&user, "user", dialogue.DefaultSessionKey, "session key sent as X-User-Id")
	cmd.Flags().BoolVar(&local, "local", false, "run the engine in-process instead of calling a server")
	cmd.Flags().BoolVar(&plain, "plain", false, "print replies without markdown rendering")
	return cmd
}

func runChat(ctx context.Context, client chatClient, in lineInput, out io.Writer, render func(string, int) string) error {
	fmt.Fprintln(out, "Type a request (\"/clear\" resets history, \"/quit\" exits).")
	for {
		line, err := in.ReadLine("you> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := client.Clear(ctx); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "history cleared")
			continue
		}

		resp, err := client.Send(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprint(out, render(resp.Message, 100))
		if resp.Link != "" {
			fmt.Fprintf(out, "link: %s\n", resp.Link)
		}
	}
}

func renderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content + "\n"
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}

type localClient struct {
	engine  *dialogue.Engine
	key     string
	cleanup func() error
}

func (c *localClient) Send(ctx context.Context, message string) (dialogue.Response, error) {
	return c.engine.Handle(ctx, c.key, message)
}

func (c *localClient) Clear(ctx context.Context) error {
	return c.engine.ClearHistory(ctx, c.key)
}

func (c *localClient) Close() error {
	if c.cleanup == nil {
		return nil
	}
	return c.cleanup()
}

type httpClient struct {
	baseURL string
	user    string
	client  *http.Client
}

func newHTTPClient(baseURL, user string, timeout time.Duration) *httpClient {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) Send(ctx context.Context, message string) (dialogue.Response, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return dialogue.Response{}, err
	}
	res, err := c.do(ctx, http.MethodPost, "/v1/chat", bytes.NewReader(body))
	if err != nil {
		return dialogue.Response{}, err
	}
	defer res.Body.Close()

	var out dialogue.Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return dialogue.Response{}, fmt.Errorf("decode chat response: %w", err)
	}
	return out, nil
}

func (c *httpClient) Clear(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodDelete, "/v1/chat/history", nil)
	if err != nil {
		return err
	}
	return res.Body.Close()
}

func (c *httpClient) Close() error { return nil }

func (c *httpClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-User-Id", c.user)
	}
	res, err := c.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("server unreachable at %s: %w", c.baseURL, uerr.Err)
		}
		return nil, err
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return nil, fmt.Errorf("%s %s: status %d", method, path, res.StatusCode)
		}
		return nil, fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
	}
	return res, nil
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func newBasicLineInput(in io.Reader, out io.Writer) *basicLineInput {
	return &basicLineInput{reader: bufio.NewReader(in), out: out}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// newLineInput uses readline on an interactive stdin and falls back to a
// plain line reader otherwise.
func newLineInput(history string, in io.Reader, out io.Writer) (lineInput, error) {
	if f, ok := in.(*os.File); !ok || f != os.Stdin || !readline.DefaultIsTerminal() {
		return newBasicLineInput(in, out), nil
	}
	if history != "" {
		if err := os.MkdirAll(filepath.Dir(history), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "you> ",
		HistoryFile:       history,
		HistorySearchFold: true,
	})
	if err != nil {
		return newBasicLineInput(in, out), nil
	}
	return &readlineInput{instance: instance}, nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".calchat", "history")
}
