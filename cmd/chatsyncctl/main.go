package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/merchantdesk/chatsync/internal/session"
)

func main() {
	var sessionFlag, filterFlag string
	var jsonFlag bool
	args := parseFlags(os.Args[1:], &sessionFlag, &jsonFlag, &filterFlag)

	sessionName := session.Resolve(sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, jsonFlag)
	case "conversations":
		cmdConversations(ctx, c, filterFlag, jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1], jsonFlag)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl open <conversation-id>")
			os.Exit(1)
		}
		cmdOpen(ctx, c, args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl send <conversation-id> <message>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), jsonFlag)
	case "presence":
		cmdPresence(ctx, c, jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl search <query>")
			os.Exit(1)
		}
		cmdSearch(ctx, c, args[1], jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// parseFlags accepts the flags anywhere on the command line, so both
// "chatsyncctl --json status" and "chatsyncctl status --json" work.
func parseFlags(argv []string, sessionFlag *string, jsonFlag *bool, filterFlag *string) []string {
	var args []string
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		switch {
		case a == "--json":
			*jsonFlag = true
		case a == "--session" && i+1 < len(argv):
			i++
			*sessionFlag = argv[i]
		case strings.HasPrefix(a, "--session="):
			*sessionFlag = strings.TrimPrefix(a, "--session=")
		case a == "--filter" && i+1 < len(argv):
			i++
			*filterFlag = argv[i]
		case strings.HasPrefix(a, "--filter="):
			*filterFlag = strings.TrimPrefix(a, "--filter=")
		default:
			args = append(args, a)
		}
	}
	return args
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show connection and log state")
	fmt.Fprintln(os.Stderr, "  conversations [--filter q]  List conversations")
	fmt.Fprintln(os.Stderr, "  open <id>                   Open a conversation and load its history")
	fmt.Fprintln(os.Stderr, "  messages <id>               Show the open conversation's messages")
	fmt.Fprintln(os.Stderr, "  send <id> <message>         Send a message to the open conversation")
	fmt.Fprintln(os.Stderr, "  presence                    List online users")
	fmt.Fprintln(os.Stderr, "  search <query>              Search directory users")
}

// client talks to the daemon's control socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid conversation id %q", s))
	}
	return id
}

type statusResponse struct {
	Session          string `json:"session"`
	ConnectionState  string `json:"connection_state"`
	OpenConversation int64  `json:"open_conversation"`
	LogState         string `json:"log_state"`
	OnlineCount      int    `json:"online_count"`
}

type conversationRow struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	LastMessage   string `json:"last_message"`
	LastMessageAt string `json:"last_message_at"`
	MessageCount  int    `json:"message_count"`
	UnreadCount   int    `json:"unread_count"`
}

type messageRow struct {
	ID         int64  `json:"id"`
	Body       string `json:"body"`
	SenderName string `json:"sender_name"`
	FromMe     bool   `json:"from_me"`
	Pending    bool   `json:"pending"`
	Timestamp  string `json:"timestamp"`
}

func cmdStatus(ctx context.Context, c *client, jsonOut bool) {
	var st statusResponse
	if err := c.get(ctx, "/v1/status", &st); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:    %s\n", st.Session)
	fmt.Printf("Connection: %s\n", st.ConnectionState)
	if st.OpenConversation != 0 {
		fmt.Printf("Open:       %d (%s)\n", st.OpenConversation, st.LogState)
	} else {
		fmt.Printf("Open:       none\n")
	}
	fmt.Printf("Online:     %d\n", st.OnlineCount)
}

func cmdConversations(ctx context.Context, c *client, filter string, jsonOut bool) {
	path := "/v1/conversations"
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}
	var rows []conversationRow
	if err := c.get(ctx, path, &rows); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, r := range rows {
		unread := ""
		if r.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", r.UnreadCount)
		}
		name := r.Name
		if name == "" {
			name = r.Email
		}
		fmt.Printf("%6d  %-24s %6s  %s%s\n", r.ID, name, relTime(r.LastMessageAt, time.Now()), r.LastMessage, unread)
	}
}

func cmdMessages(ctx context.Context, c *client, idArg string, jsonOut bool) {
	id := parseID(idArg)
	var rows []messageRow
	if err := c.get(ctx, fmt.Sprintf("/v1/conversations/%d/messages", id), &rows); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	for _, m := range rows {
		who := m.SenderName
		if m.FromMe {
			who = "me"
		}
		mark := ""
		if m.Pending {
			mark = " (sending)"
		}
		fmt.Printf("[%s] %s: %s%s\n", relTime(m.Timestamp, time.Now()), who, m.Body, mark)
	}
}

func cmdOpen(ctx context.Context, c *client, idArg string) {
	id := parseID(idArg)
	if err := c.post(ctx, fmt.Sprintf("/v1/conversations/%d/open", id), nil, nil); err != nil {
		fatal(err)
	}
	fmt.Printf("conversation %d opened\n", id)
}

func cmdSend(ctx context.Context, c *client, idArg, text string, jsonOut bool) {
	id := parseID(idArg)
	var msg messageRow
	body := map[string]string{"message": text}
	if err := c.post(ctx, fmt.Sprintf("/v1/conversations/%d/messages", id), body, &msg); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Println("sent")
}

func cmdPresence(ctx context.Context, c *client, jsonOut bool) {
	var out map[string][]string
	if err := c.get(ctx, "/v1/presence", &out); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	online := out["online"]
	if len(online) == 0 {
		fmt.Println("nobody online")
		return
	}
	for _, id := range online {
		fmt.Println(id)
	}
}

func cmdSearch(ctx context.Context, c *client, query string, jsonOut bool) {
	var users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := c.get(ctx, "/v1/users?q="+url.QueryEscape(query), &users); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-8s %-20s %s\n", u.ID, u.Username, u.Email)
	}
}
