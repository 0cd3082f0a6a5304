package permission

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

// safeCommands never modify the workspace on their own.
var safeCommands = map[string]struct{}{
	"cat":      {},
	"echo":     {},
	"find":     {},
	"grep":     {},
	"head":     {},
	"ls":       {},
	"pwd":      {},
	"rg":       {},
	"sed":      {},
	"stat":     {},
	"tail":     {},
	"wc":       {},
	"which":    {},
	"printf":   {},
	"tree":     {},
	"file":     {},
	"du":       {},
	"df":       {},
	"whoami":   {},
	"uname":    {},
	"basename": {},
	"dirname":  {},
	"realpath": {},
	"diff":     {},
	"sort":     {},
	"uniq":     {},
}

var safeGitSubcommands = map[string]struct{}{
	"status":    {},
	"diff":      {},
	"log":       {},
	"show":      {},
	"blame":     {},
	"rev-parse": {},
	"ls-files":  {},
}

// flagRule lists the options that turn a read-only command into a writer
// or executor.
type flagRule struct {
	// long options match exactly, in --opt=value form, or abbreviated.
	long []string
	// short option letters match anywhere in a -abc cluster.
	short string
	// words are single-dash options matched by prefix (find predicates).
	words []string
}

var unsafeFlags = map[string]flagRule{
	"find": {words: []string{"-exec", "-ok", "-delete", "-fprint", "-fls"}},
	"sort": {long: []string{"--output", "--compress-program"}, short: "o"},
	"rg":   {long: []string{"--pre", "--pre-glob"}},
	"tree": {short: "oR"},
	"file": {long: []string{"--compile"}, short: "C"},
	"git":  {long: []string{"--output", "--ext-diff"}},
}

// sedPrintScript matches sed scripts that only print a line range.
var sedPrintScript = regexp.MustCompile(`^(\d+|\$)(,(\d+|\$))?p$`)

var subcommandPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_:-]*$`)

// CommandFromArgs extracts the "command" string from shell tool arguments.
func CommandFromArgs(args json.RawMessage) (string, bool) {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &payload); err != nil || strings.TrimSpace(payload.Command) == "" {
		return "", false
	}
	return payload.Command, true
}

// parsed is a shell command split at control operators.
type parsed struct {
	segments [][]string
	// hazardous is set when the command uses redirection, substitution or
	// backgrounding, or cannot be tokenised.
	hazardous bool
}

// parse splits cmd on ;, &&, ||, | and newlines outside quotes, then
// tokenises each segment.
func parse(cmd string) parsed {
	var (
		out     parsed
		current strings.Builder
		single  bool
		double  bool
		escaped bool
		raw     []string
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			raw = append(raw, s)
		}
		current.Reset()
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case escaped:
			escaped = false
			current.WriteByte(c)
			continue
		case c == '\\' && !single:
			escaped = true
			current.WriteByte(c)
			continue
		case c == '\'' && !double:
			single = !single
		case c == '"' && !single:
			double = !double
		case single:
		case c == '`' || (c == '$' && i+1 < len(cmd) && cmd[i+1] == '('):
			out.hazardous = true
		case double:
		case c == '>' || c == '<':
			out.hazardous = true
		case c == ';' || c == '\n':
			flush()
			continue
		case c == '|':
			flush()
			if i+1 < len(cmd) && cmd[i+1] == '|' {
				i++
			}
			continue
		case c == '&':
			if i+1 < len(cmd) && cmd[i+1] == '&' {
				flush()
				i++
				continue
			}
			out.hazardous = true
		}
		current.WriteByte(c)
	}
	if single || double || escaped {
		out.hazardous = true
	}
	flush()

	for _, seg := range raw {
		words, err := shellquote.Split(seg)
		if err != nil {
			out.hazardous = true
			continue
		}
		if len(words) > 0 {
			out.segments = append(out.segments, words)
		}
	}
	return out
}

// IsSafeCommand reports whether every segment of cmd is on the read-only
// allow-list and the command uses no redirection or substitution.
func IsSafeCommand(cmd string) bool {
	p := parse(cmd)
	if p.hazardous || len(p.segments) == 0 {
		return false
	}
	for _, words := range p.segments {
		if !safeSegment(words) {
			return false
		}
	}
	return true
}

func safeSegment(words []string) bool {
	verb := path.Base(words[0])
	switch verb {
	case "git":
		if len(words) < 2 {
			return false
		}
		if _, ok := safeGitSubcommands[words[1]]; !ok {
			return false
		}
		return !unsafeFlags[verb].denies(words[2:])
	case "sed":
		return safeSed(words[1:])
	case "uniq":
		// uniq INPUT OUTPUT writes OUTPUT.
		if len(operands(words[1:])) > 1 {
			return false
		}
	}
	if _, ok := safeCommands[verb]; !ok {
		return false
	}
	return !unsafeFlags[verb].denies(words[1:])
}

// denies reports whether any of args uses one of the rule's options.
func (r flagRule) denies(args []string) bool {
	for _, w := range args {
		switch {
		case strings.HasPrefix(w, "--"):
			name, _, _ := strings.Cut(w, "=")
			if name == "--" {
				continue
			}
			for _, long := range r.long {
				if strings.HasPrefix(long, name) {
					return true
				}
			}
		case strings.HasPrefix(w, "-") && len(w) > 1:
			for _, word := range r.words {
				if strings.HasPrefix(w, word) {
					return true
				}
			}
			if r.short != "" && len(r.words) == 0 && strings.ContainsAny(w[1:], r.short) {
				return true
			}
		}
	}
	return false
}

func operands(args []string) []string {
	var out []string
	for _, w := range args {
		if !strings.HasPrefix(w, "-") || w == "-" {
			out = append(out, w)
		}
	}
	return out
}

// safeSed allows sed only as a line-range printer: sed -n 10,20p file.
// Scripts may write files or run commands, so anything else is unsafe.
func safeSed(args []string) bool {
	var scripts []string
	expectScript := false
	for _, w := range args {
		switch {
		case expectScript:
			scripts = append(scripts, w)
			expectScript = false
		case w == "-e" || w == "--expression":
			expectScript = true
		case strings.HasPrefix(w, "--expression="):
			scripts = append(scripts, strings.TrimPrefix(w, "--expression="))
		case w == "-n" || w == "--quiet" || w == "--silent" || w == "-E" || w == "-r" || w == "--regexp-extended":
		case strings.HasPrefix(w, "-") && w != "-":
			return false
		case len(scripts) == 0:
			scripts = append(scripts, w)
		}
	}
	if expectScript || len(scripts) == 0 {
		return false
	}
	for _, s := range scripts {
		if !sedPrintScript.MatchString(s) {
			return false
		}
	}
	return true
}

// CommandPrefix derives the approval prefix of cmd: the first word of the
// first segment, plus the second word when it looks like a subcommand
// rather than a flag or a path ("git commit", "npm install", "rm").
func CommandPrefix(cmd string) string {
	p := parse(cmd)
	if len(p.segments) == 0 {
		return ""
	}
	return segmentPrefix(p.segments[0])
}

func segmentPrefix(words []string) string {
	if len(words) >= 2 && subcommandPattern.MatchString(words[1]) {
		return words[0] + " " + words[1]
	}
	return words[0]
}

// matchesPrefix reports whether words begin with the words of prefix.
func matchesPrefix(words []string, prefix string) bool {
	want := strings.Fields(prefix)
	if len(want) == 0 || len(words) < len(want) {
		return false
	}
	for i, w := range want {
		if words[i] != w {
			return false
		}
	}
	return true
}
