package tui

import "strings"

// Command is a parsed ":" command line.
type Command struct {
	Name string
	Args string
}

var aliases = map[string]string{
	"q":    "quit",
	"exit": "quit",
	"h":    "help",
	"s":    "search",
	"c":    "chat",
	"open": "chat",
	"hang": "end",
	"ok":   "accept",
}

// ParseCommand parses input without the leading ':'. Names are lowercased
// and short aliases expanded.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	name = strings.ToLower(name)
	if full, ok := aliases[name]; ok {
		name = full
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}
}
