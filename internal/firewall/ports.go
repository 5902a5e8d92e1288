package firewall

import (
	"fmt"
	"strconv"
	"strings"
)

// PortSpec is one element of a parsed port-set expression: either a
// single port (Lo == Hi) or an inclusive range.
type PortSpec struct {
	Lo, Hi uint16
}

// ParsePorts parses a comma-separated set expression of singletons and
// inclusive "lo-hi" ranges. A degenerate "n-n" range is legal.
func ParsePorts(expr string) ([]PortSpec, error) {
	var specs []PortSpec
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if idx := strings.Index(tok, "-"); idx > 0 {
			lo, err := parsePort(tok[:idx])
			if err != nil {
				return nil, err
			}
			hi, err := parsePort(tok[idx+1:])
			if err != nil {
				return nil, err
			}
			specs = append(specs, PortSpec{Lo: lo, Hi: hi})
			continue
		}
		p, err := parsePort(tok)
		if err != nil {
			return nil, err
		}
		specs = append(specs, PortSpec{Lo: p, Hi: p})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty port expression")
	}
	return specs, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(n), nil
}
