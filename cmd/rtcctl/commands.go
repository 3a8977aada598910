package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
)

type env struct {
	client *api.Client
	json   bool
}

type command struct {
	usage  string
	help   string
	stream bool
	run    func(ctx context.Context, e *env, args []string) error
}

var order = []string{
	"status", "reconnect",
	"conversations", "open", "messages", "search",
	"send", "retry", "discard", "read", "react", "delete",
	"typing", "presence",
	"call", "accept", "reject", "end", "mute", "unmute", "call-status", "calls",
	"stories", "story-post", "story-view", "story-viewers", "story-delete",
	"watch",
}

var commands = map[string]command{
	"status":    {usage: "status", help: "Show link, call and sync state", run: cmdStatus},
	"reconnect": {usage: "reconnect", help: "Dial the service again after the link gave up", run: simple("Reconnect")},

	"conversations": {usage: "conversations [-refresh]", help: "List conversations", run: cmdConversations},
	"open":          {usage: "open <conversation>", help: "Make a conversation active and fetch its messages", run: withArgs("OpenConversation", "conversation_id")},
	"messages":      {usage: "messages [-conversation id] [-cached]", help: "Show messages, grouped by day", run: cmdMessages},
	"search":        {usage: "search [-conversation id] <query>", help: "Search cached messages", run: cmdSearch},

	"send":    {usage: "send [-media file] <receiver> <text>", help: "Send a message", run: cmdSend},
	"retry":   {usage: "retry <temp_id>", help: "Resend a failed message", run: withArgs("RetryMessage", "temp_id")},
	"discard": {usage: "discard <temp_id>", help: "Drop a failed message", run: withArgs("DiscardMessage", "temp_id")},
	"read":    {usage: "read", help: "Mark the active conversation read", run: simple("MarkRead")},
	"react":   {usage: "react <message_id> <emoji>", help: "React to a message", run: withArgs("React", "message_id", "emoji")},
	"delete":  {usage: "delete <message_id>", help: "Delete a message", run: withArgs("DeleteMessage", "message_id")},

	"typing":   {usage: "typing [-stop] [-receiver id] <conversation>", help: "Announce typing", run: cmdTyping},
	"presence": {usage: "presence [-conversation id] <user>", help: "Show a user's presence", run: cmdPresence},

	"call":        {usage: "call [-kind audio|video] [-name n] <user>", help: "Start a call", run: cmdCall},
	"accept":      {usage: "accept", help: "Accept the ringing call", run: simple("AcceptCall")},
	"reject":      {usage: "reject", help: "Reject the ringing call", run: simple("RejectCall")},
	"end":         {usage: "end", help: "Hang up", run: simple("EndCall")},
	"mute":        {usage: "mute <audio|video>", help: "Stop sending microphone or camera", run: mute(true)},
	"unmute":      {usage: "unmute <audio|video>", help: "Resume sending microphone or camera", run: mute(false)},
	"call-status": {usage: "call-status", help: "Show the current call", run: simple("GetCall")},
	"calls":       {usage: "calls [-limit n]", help: "Show the call log", run: cmdCalls},

	"stories":       {usage: "stories [-refresh]", help: "List status updates by author", run: cmdStories},
	"story-post":    {usage: "story-post [-media file] [text]", help: "Post a status update", run: cmdStoryPost},
	"story-view":    {usage: "story-view <story_id>", help: "Mark a status update viewed", run: withArgs("ViewStory", "story_id")},
	"story-viewers": {usage: "story-viewers <story_id>", help: "List who viewed a status update", run: withArgs("StoryViewers", "story_id")},
	"story-delete":  {usage: "story-delete <story_id>", help: "Delete a status update", run: withArgs("DeleteStory", "story_id")},

	"watch": {usage: "watch [prefix]", help: "Stream engine events", stream: true, run: cmdWatch},
}

func simple(method string) func(context.Context, *env, []string) error {
	return withArgs(method)
}

// withArgs maps positional arguments onto keys, one to one.
func withArgs(method string, keys ...string) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		if len(args) != len(keys) {
			return fmt.Errorf("%s expects %d argument(s): %s", method, len(keys), strings.Join(keys, " "))
		}
		req := map[string]any{}
		for i, k := range keys {
			req[k] = args[i]
		}
		resp, err := e.client.Call(ctx, method, req)
		if err != nil {
			return err
		}
		outputJSON(resp.AsMap())
		return nil
	}
}

func cmdStatus(ctx context.Context, e *env, _ []string) error {
	resp, err := e.client.Call(ctx, "GetStatus", nil)
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	fmt.Printf("Profile:       %v (%v)\n", m["profile"], m["user_id"])
	link := fmt.Sprint(m["link"])
	if since := toInt(m["link_since_ms"]); since > 0 {
		link += fmt.Sprintf(" for %s", time.Since(time.UnixMilli(since)).Round(time.Second))
	}
	if n := toInt(m["recoveries"]); n > 0 {
		link += fmt.Sprintf(", recovered %d times", n)
	}
	fmt.Printf("Link:          %s\n", link)
	fmt.Printf("Call:          %v\n", m["call_state"])
	fmt.Printf("Conversations: %v\n", m["conversations"])
	if active, _ := m["active"].(string); active != "" {
		fmt.Printf("Active:        %s\n", active)
	}
	fmt.Printf("Pending sends: %v\n", m["pending_sends"])
	if failed, found := m["failed_sends"]; found {
		fmt.Printf("Failed sends:  %v\n", failed)
	}
	if dropped := toInt(m["events_dropped"]); dropped > 0 {
		fmt.Printf("Dropped:       %d events\n", dropped)
	}
	if perr, found := m["presence_error"]; found {
		fmt.Printf("Presence:      %v\n", perr)
	}
	fmt.Printf("Uptime:        %v\n", time.Duration(toInt(m["uptime_ms"]))*time.Millisecond)
	return nil
}

func cmdConversations(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("conversations", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "fetch from the service first")
	_ = fs.Parse(args)

	resp, err := e.client.Call(ctx, "ListConversations", map[string]any{"refresh": *refresh})
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	items, _ := m["items"].([]any)
	if len(items) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, it := range items {
		c := it.(map[string]any)
		var names []string
		for _, p := range list(c["participants"]) {
			names = append(names, userLabel(p))
		}
		preview := ""
		if last, ok := c["last_message"].(map[string]any); ok {
			preview, _ = last["content"].(string)
		}
		fmt.Printf("%-26v %-30s %3v  %s\n", c["id"], strings.Join(names, ", "), c["unread_count"], preview)
	}
	return nil
}

func cmdMessages(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	conv := fs.String("conversation", "", "conversation id (default: the active one)")
	cached := fs.Bool("cached", false, "read from the local cache")
	before := fs.Int64("before", 0, "only messages older than this unix millisecond timestamp")
	limit := fs.Int("limit", 50, "page size for cached reads")
	_ = fs.Parse(args)

	req := map[string]any{"grouped": !e.json, "cached": *cached, "limit": *limit}
	if *conv != "" {
		req["conversation_id"] = *conv
	}
	if *before > 0 {
		req["before"] = *before
	}
	resp, err := e.client.Call(ctx, "ListMessages", req)
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	days := list(m["days"])
	if len(days) == 0 {
		fmt.Println("No messages.")
	}
	for _, d := range days {
		day := d.(map[string]any)
		fmt.Printf("── %v ──\n", day["label"])
		for _, msg := range list(day["messages"]) {
			printMessage(msg.(map[string]any))
		}
	}
	return nil
}

func printMessage(msg map[string]any) {
	sender := userLabel(msg["sender"])
	content, _ := msg["content"].(string)
	if deleted, _ := msg["isDeleted"].(bool); deleted {
		content = "(deleted)"
	} else if url, _ := msg["imageOrVideoUrl"].(string); url != "" {
		content = strings.TrimSpace(fmt.Sprintf("[%v] %s %s", msg["contentType"], url, content))
	}
	id, _ := msg["_id"].(string)
	if id == "" {
		id, _ = msg["tempId"].(string)
	}
	at := ""
	if t, err := time.Parse(time.RFC3339Nano, fmt.Sprint(msg["createdAt"])); err == nil {
		at = t.Local().Format("15:04")
	}
	fmt.Printf("%5s %-12s %s  [%v] %s\n", at, sender, content, msg["messageStatus"], id)
}

func cmdSearch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	conv := fs.String("conversation", "", "restrict to one conversation")
	limit := fs.Int("limit", 20, "maximum results")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("search needs a query")
	}
	req := map[string]any{"query": strings.Join(fs.Args(), " "), "limit": *limit}
	if *conv != "" {
		req["conversation_id"] = *conv
	}
	resp, err := e.client.Call(ctx, "SearchMessages", req)
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	items := list(m["items"])
	if len(items) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, it := range items {
		hit := it.(map[string]any)
		msg, _ := hit["message"].(map[string]any)
		fmt.Printf("%-26v %s\n", msg["conversation"], hit["snippet"])
	}
	return nil
}

func cmdSend(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	media := fs.String("media", "", "attach an image or video file")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("send needs a receiver id")
	}
	req := map[string]any{"receiver_id": fs.Arg(0), "content": strings.Join(fs.Args()[1:], " ")}
	if err := attach(req, *media); err != nil {
		return err
	}
	resp, err := e.client.Call(ctx, "SendMessage", req)
	if err != nil {
		return err
	}
	if e.json {
		outputJSON(resp.AsMap())
		return nil
	}
	printMessage(resp.AsMap())
	return nil
}

func cmdTyping(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("typing", flag.ExitOnError)
	stop := fs.Bool("stop", false, "announce that typing stopped")
	receiver := fs.String("receiver", "", "receiver id (default: the other participant)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("typing needs a conversation id")
	}
	_, err := e.client.Call(ctx, "Typing", map[string]any{
		"conversation_id": fs.Arg(0), "receiver_id": *receiver, "stop": *stop,
	})
	return err
}

func cmdPresence(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("presence", flag.ExitOnError)
	conv := fs.String("conversation", "", "also report typing in this conversation")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("presence needs a user id")
	}
	req := map[string]any{"user_id": fs.Arg(0)}
	if *conv != "" {
		req["conversation_id"] = *conv
	}
	resp, err := e.client.Call(ctx, "GetPresence", req)
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	switch {
	case m["known"] != true:
		fmt.Println("unknown")
	case m["online"] == true:
		fmt.Println("online")
	case m["last_seen"] != nil:
		fmt.Printf("last seen %s\n", time.UnixMilli(toInt(m["last_seen"])).Local().Format(time.DateTime))
	default:
		fmt.Println("offline")
	}
	if m["typing"] == true {
		fmt.Println("typing...")
	}
	return nil
}

func cmdCall(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	kind := fs.String("kind", "video", "audio or video")
	name := fs.String("name", "", "display name of the callee")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("call needs a user id")
	}
	resp, err := e.client.Call(ctx, "StartCall", map[string]any{
		"user_id": fs.Arg(0), "username": *name, "kind": *kind,
	})
	if err != nil {
		return err
	}
	outputJSON(resp.AsMap())
	return nil
}

func mute(muted bool) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		if len(args) != 1 {
			return errors.New("expected audio or video")
		}
		resp, err := e.client.Call(ctx, "MuteCall", map[string]any{"kind": args[0], "muted": muted})
		if err != nil {
			return err
		}
		outputJSON(resp.AsMap())
		return nil
	}
}

func cmdCalls(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("calls", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum entries")
	_ = fs.Parse(args)

	resp, err := e.client.Call(ctx, "ListCalls", map[string]any{"limit": *limit})
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	for _, it := range list(m["items"]) {
		c := it.(map[string]any)
		started := time.UnixMilli(toInt(c["started_at"])).Local().Format(time.DateTime)
		took := ""
		if conn := toInt(c["connected_at"]); conn > 0 {
			took = (time.Duration(toInt(c["ended_at"])-conn) * time.Millisecond).Round(time.Second).String()
		}
		fmt.Printf("%s %-6v %-5v %-12v %-12v %s %v\n", started, c["role"], c["kind"], c["peer_id"], c["state"], took, c["reason"])
	}
	return nil
}

func cmdStories(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("stories", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "fetch from the service first")
	_ = fs.Parse(args)

	resp, err := e.client.Call(ctx, "ListStories", map[string]any{"refresh": *refresh})
	if err != nil {
		return err
	}
	m := resp.AsMap()
	if e.json {
		outputJSON(m)
		return nil
	}
	for _, it := range list(m["items"]) {
		g := it.(map[string]any)
		label := userLabel(g["user"])
		if g["own"] == true {
			label = "My status"
		}
		fmt.Println(label)
		for _, s := range list(g["stories"]) {
			story := s.(map[string]any)
			fmt.Printf("  %-26v %v\n", story["_id"], story["content"])
		}
	}
	return nil
}

func cmdStoryPost(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("story-post", flag.ExitOnError)
	media := fs.String("media", "", "attach an image or video file")
	_ = fs.Parse(args)
	req := map[string]any{"content": strings.Join(fs.Args(), " ")}
	if err := attach(req, *media); err != nil {
		return err
	}
	resp, err := e.client.Call(ctx, "CreateStory", req)
	if err != nil {
		return err
	}
	outputJSON(resp.AsMap())
	return nil
}

func cmdWatch(ctx context.Context, e *env, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	stream, err := e.client.Watch(ctx, prefix)
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		m := evt.AsMap()
		if e.json {
			outputJSON(m)
			continue
		}
		at := time.UnixMilli(toInt(m["occurred_at_ms"])).Local().Format("15:04:05.000")
		fmt.Printf("%s %-28v %v\n", at, m["kind"], compact(m["payload"]))
	}
}

// attach reads path into the request's media fields.
func attach(req map[string]any, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	req["media_data"] = base64.StdEncoding.EncodeToString(data)
	req["media_name"] = filepath.Base(path)
	req["media_type"] = ct
	return nil
}
