package firewall

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/errs"
)

// chainName is the tag's shape as a dedicated custom chain name in the
// legacy backend.
const chainName = Tag

// iptHandle is the subset of *iptables.IPTables this backend drives.
type iptHandle interface {
	NewChain(table, chain string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	AppendUnique(table, chain string, spec ...string) error
	Append(table, chain string, spec ...string) error
	DeleteIfExists(table, chain string, spec ...string) error
	ChainExists(table, chain string) (bool, error)
	List(table, chain string) ([]string, error)
}

// IptablesBackend reconciles rules through github.com/coreos/go-iptables,
// applied identically to both IPv4 and IPv6.
type IptablesBackend struct {
	mu      sync.Mutex
	handles []iptHandle
}

// NewIptablesBackend creates a backend driving both the IPv4 and IPv6
// iptables handles.
func NewIptablesBackend() (*IptablesBackend, error) {
	ipt4, err := iptables.New()
	if err != nil {
		return nil, errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "connect", "family", "ipv4")
	}
	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "connect", "family", "ipv6")
	}
	return newIptablesBackendWithHandles(ipt4, ipt6), nil
}

func newIptablesBackendWithHandles(handles ...iptHandle) *IptablesBackend {
	return &IptablesBackend{handles: handles}
}

func (b *IptablesBackend) Kind() BackendKind { return Iptables }

// Probe performs the non-mutating "is iptables usable" check: listing the
// filter table's OUTPUT chain.
func (b *IptablesBackend) Probe() error {
	for _, h := range b.handles {
		if _, err := h.List("filter", "OUTPUT"); err != nil {
			return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "probe")
		}
	}
	return nil
}

func (b *IptablesBackend) Setup(ctx context.Context, rules []Rule, iface string, routerMode bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.cleanupLocked(); err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "setup-cleanup")
	}

	for _, h := range b.handles {
		if err := h.NewChain("filter", chainName); err != nil && !alreadyExists(err) {
			return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "create-chain")
		}

		for _, r := range rules {
			specs, err := buildIptablesSpecs(r, iface)
			if err != nil {
				return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "build-rule", "queue", r.QueueNum)
			}
			for _, spec := range specs {
				if err := h.Append("filter", chainName, spec...); err != nil {
					return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "append-rule", "queue", r.QueueNum)
				}
			}
		}

		if err := h.AppendUnique("filter", "OUTPUT", "-j", chainName); err != nil {
			return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "jump-rule")
		}
	}

	// Router-mode masquerade is a modern-backend-only feature in this
	// version; the legacy backend surfaces it as a no-op so callers don't
	// need backend-specific branching beyond Setup's bool parameter.
	_ = routerMode

	return nil
}

// buildIptablesSpecs expands a FilterRule into one iptables rule spec per
// port token, since "--dport" does not accept a mixed singleton/range list
// the way an nft set does.
func buildIptablesSpecs(r Rule, iface string) ([][]string, error) {
	specs, err := ParsePorts(r.Ports)
	if err != nil {
		return nil, err
	}

	var out [][]string
	for _, p := range specs {
		spec := []string{"-p", r.Protocol}
		if iface != config.AnyInterface && iface != "" {
			spec = append(spec, "-o", iface)
		}
		if p.Lo == p.Hi {
			spec = append(spec, "--dport", fmt.Sprintf("%d", p.Lo))
		} else {
			spec = append(spec, "--dport", fmt.Sprintf("%d:%d", p.Lo, p.Hi))
		}
		spec = append(spec, "-j", "NFQUEUE", "--queue-num", fmt.Sprintf("%d", r.QueueNum), "--queue-bypass")
		out = append(out, spec)
	}
	return out, nil
}

func (b *IptablesBackend) cleanupLocked() error {
	for _, h := range b.handles {
		if err := h.DeleteIfExists("filter", "OUTPUT", "-j", chainName); err != nil {
			return err
		}
		exists, err := h.ChainExists("filter", chainName)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := h.ClearChain("filter", chainName); err != nil {
			return err
		}
		if err := h.DeleteChain("filter", chainName); err != nil {
			return err
		}
	}
	return nil
}

func (b *IptablesBackend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.cleanupLocked(); err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "cleanup")
	}
	return nil
}

func (b *IptablesBackend) Status(ctx context.Context) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.handles[0]
	exists, err := h.ChainExists("filter", chainName)
	if err != nil {
		return Status{}, errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "status")
	}
	if !exists {
		return Status{Kind: Iptables, State: StateNoChain}, nil
	}

	rules, err := h.List("filter", chainName)
	if err != nil {
		return Status{}, errs.New(errs.FirewallSetup, err, "backend", Iptables, "operation", "status")
	}

	// List includes the "-N chainName" declaration line itself.
	count := len(rules) - 1
	if count < 0 {
		count = 0
	}

	state := StateInactive
	if count > 0 {
		state = StateActive
	}
	return Status{Kind: Iptables, State: state, RuleCount: count}, nil
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "File exists")
}
