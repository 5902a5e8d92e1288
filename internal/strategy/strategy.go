// Package strategy compiles a flat, declarative strategy file into an
// ordered sequence of (FilterRule, WorkerSpec) pairs keyed by a dense
// queue number, per the strategy compiler component of the controller.
package strategy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/zapretctl/zapret-ng/internal/errs"
)

// Protocol is the transport protocol a FilterRule matches.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// FilterRule is a derived kernel packet-filter rule, dense from queue 0.
type FilterRule struct {
	Protocol Protocol
	// Ports is the raw set expression: comma-separated singletons and
	// inclusive ranges "lo-hi", exactly as it appeared (post-substitution)
	// in the strategy file.
	Ports string
	QueueNum int
	// BypassOnStall is always true in this version.
	BypassOnStall bool
}

// WorkerSpec is the 1:1, index-paired counterpart of a FilterRule.
type WorkerSpec struct {
	QueueNum int
	// Args is the ordered, quote-aware-split argument vector, already
	// post-substitution and with "=^!" normalized to "=!".
	Args []string
}

// CompiledStrategy is the pair of ordered sequences bound by QueueNum.
type CompiledStrategy struct {
	Rules   []FilterRule
	Workers []WorkerSpec
}

// substitution tokens fixed by the spec.
const (
	tokenBin        = "%BIN%"
	tokenLists      = "%LISTS%"
	tokenGameFilter = "%GameFilter%"

	binReplacement   = "bin/"
	listsReplacement = "lists/"
	gameFilterPorts  = "1024-65535"
)

// filterDirective matches "--filter-<proto>=<ports>" followed by the
// worker-argument run, terminated by "--new" or end-of-line.
var filterDirective = regexp.MustCompile(`--filter-(tcp|udp)=([0-9,\-]+)\s*(.*?)(?:--new\b|$)`)

// Compile streams strategyPath line by line and produces a CompiledStrategy.
// gameFilterEnabled controls the %GameFilter% substitution. An empty file,
// or one with no matching directives, compiles successfully to an empty
// CompiledStrategy, and a warning is logged through logger when it is
// non-nil.
func Compile(strategyPath string, gameFilterEnabled bool, logger *slog.Logger) (*CompiledStrategy, error) {
	f, err := os.Open(strategyPath)
	if err != nil {
		return nil, errs.New(errs.StrategyParse, err, "file", strategyPath)
	}
	defer f.Close()

	cs, err := compileReader(f, gameFilterEnabled, strategyPath)
	if err != nil {
		return nil, err
	}

	if len(cs.Rules) == 0 && logger != nil {
		logger.Warn("strategy file compiled with no directives",
			slog.String("component", "strategy"),
			slog.String("operation", "compile"),
			slog.String("file", strategyPath),
		)
	}

	return cs, nil
}

func compileReader(r io.Reader, gameFilterEnabled bool, path string) (*CompiledStrategy, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	cs := &CompiledStrategy{}
	queue := 0
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := normalizeLine(scanner.Text())

		if isSkipLine(line) {
			continue
		}

		line = substitute(line, gameFilterEnabled)

		matches := filterDirective.FindAllStringSubmatch(line, -1)
		for _, match := range matches {
			proto := Protocol(match[1])
			ports := match[2]
			argString := strings.TrimSpace(match[3])

			args, err := splitArgs(argString)
			if err != nil {
				return nil, errs.New(errs.StrategyParse, err, "file", path, "line", lineNum)
			}
			args = normalizeArgs(args)

			cs.Rules = append(cs.Rules, FilterRule{
				Protocol:      proto,
				Ports:         ports,
				QueueNum:      queue,
				BypassOnStall: true,
			})
			cs.Workers = append(cs.Workers, WorkerSpec{
				QueueNum: queue,
				Args:     args,
			})
			queue++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.StrategyParse, err, "file", path, "line", lineNum)
	}

	return cs, nil
}

// normalizeLine strips a trailing carriage return, making the scanner
// agnostic to CRLF vs LF line termination.
func normalizeLine(line string) string {
	return strings.TrimSuffix(line, "\r")
}

// isSkipLine reports whether line (after whitespace trim) is a comment,
// empty, or a batch-file service command to be ignored outright.
func isSkipLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "::") {
		return true
	}
	if strings.HasPrefix(trimmed, "@echo") {
		return true
	}
	if strings.HasPrefix(trimmed, "chcp") {
		return true
	}
	return false
}

// substitute applies the three fixed token replacements. %GameFilter% is
// context-sensitive: disabled, both ",%GameFilter%" and "%GameFilter%,"
// are elided along with any bare occurrence, so the surrounding port list
// stays well-formed (no leading/trailing/doubled comma).
func substitute(line string, gameFilterEnabled bool) string {
	line = strings.ReplaceAll(line, tokenBin, binReplacement)
	line = strings.ReplaceAll(line, tokenLists, listsReplacement)

	if gameFilterEnabled {
		line = strings.ReplaceAll(line, tokenGameFilter, gameFilterPorts)
		return line
	}

	line = strings.ReplaceAll(line, ","+tokenGameFilter, "")
	line = strings.ReplaceAll(line, tokenGameFilter+",", "")
	line = strings.ReplaceAll(line, tokenGameFilter, "")
	return line
}

// splitArgs splits argString into an argument vector respecting
// double-quoted spans, never invoking a shell.
func splitArgs(argString string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	for _, r := range argString {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCur = true
		case (r == ' ' || r == '\t') && !inQuotes:
			if hasCur {
				args = append(args, cur.String())
				cur.Reset()
				hasCur = false
			}
		default:
			cur.WriteRune(r)
			hasCur = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted argument in %q", argString)
	}
	if hasCur {
		args = append(args, cur.String())
	}
	return args, nil
}

// normalizeArgs rewrites "=^!" occurrences to "=!" after splitting, per
// the spec's fixed normalization rule.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "=^!", "=!")
	}
	return out
}
