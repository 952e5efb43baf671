package protocol

import (
	"regexp"
	"strconv"
)

// CommandKind identifies a status channel command.
type CommandKind int

const (
	CmdCase CommandKind = iota + 1
	CmdStatus
	CmdSetChange
	CmdInit
	CmdStart
	CmdComplete
)

// String returns the wire keyword of the command.
func (k CommandKind) String() string {
	switch k {
	case CmdCase:
		return "CASE"
	case CmdStatus:
		return "STATUS"
	case CmdSetChange:
		return "SET CHANGE"
	case CmdInit:
		return "INIT"
	case CmdStart:
		return "START"
	case CmdComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Command is a parsed status line.
type Command struct {
	Kind   CommandKind
	Set    string // CASE, STATUS, SET CHANGE
	ID     int    // CASE, STATUS
	Status string // STATUS
}

type matcher struct {
	re    *regexp.Regexp
	build func(m []string) (Command, bool)
}

// Matchers are tried in order of frequency; the first match wins. All of
// them are anchored at the start of the line only, so trailing text after
// a keyword is tolerated.
var matchers = []matcher{
	{regexp.MustCompile(`^CASE:(.+)-([0-9]+)$`), func(m []string) (Command, bool) {
		id, err := strconv.Atoi(m[2])
		return Command{Kind: CmdCase, Set: m[1], ID: id}, err == nil
	}},
	{regexp.MustCompile(`^STATUS:(.+)\((.+)-([0-9]+)\)`), func(m []string) (Command, bool) {
		id, err := strconv.Atoi(m[3])
		return Command{Kind: CmdStatus, Status: m[1], Set: m[2], ID: id}, err == nil
	}},
	{regexp.MustCompile(`^SET CHANGE:(.+)`), func(m []string) (Command, bool) {
		return Command{Kind: CmdSetChange, Set: m[1]}, true
	}},
	{regexp.MustCompile(`^INIT`), func([]string) (Command, bool) { return Command{Kind: CmdInit}, true }},
	{regexp.MustCompile(`^START`), func([]string) (Command, bool) { return Command{Kind: CmdStart}, true }},
	{regexp.MustCompile(`^COMPLETE`), func([]string) (Command, bool) { return Command{Kind: CmdComplete}, true }},
}

// ParseStatus matches line against the status grammar.
func ParseStatus(line string) (Command, bool) {
	for _, mt := range matchers {
		m := mt.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if cmd, ok := mt.build(m); ok {
			return cmd, true
		}
	}
	return Command{}, false
}
