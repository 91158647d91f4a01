// Command dispatch is the dispatcher admin CLI.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/internal/version"
	"github.com/GoCodeAlone/dispatch/server"
	"github.com/GoCodeAlone/dispatch/server/api"
	"github.com/GoCodeAlone/dispatch/task"
	"github.com/GoCodeAlone/dispatch/worker"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "dispatcher admin URL")
		token     = flag.String("token", os.Getenv("DISPATCH_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Out:        os.Stdout,
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "workers":
		err = cli.cmdWorkers(rest)
	case "events":
		err = cli.cmdEvents(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "hash-password":
		err = cmdHashPassword(os.Stdin)
	case "serve":
		fmt.Fprintln(os.Stderr, "use dispatchd to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `dispatch: task dispatcher admin CLI

Usage:
  dispatch [flags] <command> [args]

Flags:
  --server  <url>    admin URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $DISPATCH_TOKEN)

Commands:
  version                    print version
  status                     show dispatcher status
  tasks [status]             list tasks, optionally by status
  task <id>                  show one task
  task add <description>     enqueue a task
  workers                    list connected workers
  events [type] [limit]      show recent events
  login <user>               print a token (password from $DISPATCH_PASSWORD or stdin)
  hash-password              read a password from stdin, print its bcrypt hash
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("dispatch %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Out        io.Writer
}

// do sends a request and decodes a JSON response into v (may be nil).
func (c *Client) do(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *Client) post(path string, payload, v any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, path, bytes.NewReader(b), v)
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var st api.Status
	if err := c.get("/api/status", &st); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "status:   %s\n", st.Status)
	fmt.Fprintf(c.Out, "version:  %s\n", st.Version)
	fmt.Fprintf(c.Out, "uptime:   %s\n", st.Uptime)
	fmt.Fprintf(c.Out, "tasks:    %d/%d (pending %d, in progress %d, completed %d)\n",
		st.Tasks.Total, st.Tasks.Capacity, st.Tasks.Pending, st.Tasks.InProgress, st.Tasks.Completed)
	fmt.Fprintf(c.Out, "workers:  %d (table %d/%d slots)\n", st.Table.Workers, st.Table.Used, st.Table.Capacity)
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(args []string) error {
	path := "/api/tasks"
	if len(args) > 0 {
		path += "?status=" + url.QueryEscape(args[0])
	}
	var tasks []task.Task
	if err := c.get(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(c.Out, "no tasks")
		return nil
	}
	fmt.Fprintf(c.Out, "%-5s %-40s %-12s %-8s %s\n", "ID", "DESCRIPTION", "STATUS", "ATTEMPTS", "RESULT")
	fmt.Fprintln(c.Out, strings.Repeat("-", 90))
	for _, t := range tasks {
		fmt.Fprintf(c.Out, "%-5d %-40s %-12s %-8d %s\n",
			t.ID,
			truncate(t.Description, 39),
			t.Status,
			t.Attempts,
			truncate(t.Result, 30),
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dispatch task <id> | task add <description>")
	}
	if args[0] == "add" {
		if len(args) < 2 {
			return fmt.Errorf("usage: dispatch task add <description>")
		}
		var created task.Task
		body := map[string]string{"description": strings.Join(args[1:], " ")}
		if err := c.post("/api/tasks", body, &created); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "created task %d\n", created.ID)
		return nil
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}
	var t task.Task
	if err := c.get("/api/tasks/"+strconv.Itoa(id), &t); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "id:          %d\n", t.ID)
	fmt.Fprintf(c.Out, "description: %s\n", t.Description)
	fmt.Fprintf(c.Out, "status:      %s\n", t.Status)
	fmt.Fprintf(c.Out, "attempts:    %d\n", t.Attempts)
	if t.Result != "" {
		fmt.Fprintf(c.Out, "result:      %s\n", t.Result)
	}
	return nil
}

// --- workers ---

func (c *Client) cmdWorkers(_ []string) error {
	var workers []worker.Info
	if err := c.get("/api/workers", &workers); err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Fprintln(c.Out, "no workers")
		return nil
	}
	fmt.Fprintf(c.Out, "%-5s %-36s %-22s %-6s %s\n", "SLOT", "SESSION", "ADDR", "STATUS", "TASK")
	fmt.Fprintln(c.Out, strings.Repeat("-", 80))
	for _, w := range workers {
		current := "-"
		if w.CurrentTask != 0 {
			current = strconv.Itoa(w.CurrentTask)
		}
		fmt.Fprintf(c.Out, "%-5d %-36s %-22s %-6s %s\n", w.Index, w.Session, w.Addr, w.Status, current)
	}
	return nil
}

// --- events ---

func (c *Client) cmdEvents(args []string) error {
	q := url.Values{}
	if len(args) > 0 {
		q.Set("type", args[0])
	}
	if len(args) > 1 {
		q.Set("limit", args[1])
	}
	var events []comms.Event
	if err := c.get("/api/events?"+q.Encode(), &events); err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(c.Out, "%s  %-20s", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type)
		if ev.TaskID != 0 {
			fmt.Fprintf(c.Out, " task=%d", ev.TaskID)
		}
		if ev.Worker != "" {
			fmt.Fprintf(c.Out, " worker=%s", ev.Worker)
		}
		if ev.Detail != "" {
			fmt.Fprintf(c.Out, " %s", ev.Detail)
		}
		fmt.Fprintln(c.Out)
	}
	return nil
}

// --- auth ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dispatch login <user>")
	}
	password := os.Getenv("DISPATCH_PASSWORD")
	if password == "" {
		var err error
		if password, err = readLine(os.Stdin); err != nil {
			return err
		}
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post("/api/auth/login", map[string]string{"username": args[0], "password": password}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, resp.Token)
	return nil
}

func cmdHashPassword(in io.Reader) error {
	password, err := readLine(in)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}
	hash, err := server.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// --- helpers ---

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
