// Package firewall reconciles compiled strategy rules against one of two
// kernel packet-filter backends (modern nftables, legacy iptables),
// cleaning up strictly by an owning tag.
package firewall

import "context"

// Tag is the fixed identifying string every rule/chain created by this
// package carries. Cleanup operates only on tagged objects.
const Tag = "zapret-ng"

// BackendKind names which control surface a Reconciler is driving.
type BackendKind string

const (
	Nftables BackendKind = "nftables"
	Iptables BackendKind = "iptables"
)

// State is the observed activation state of the reconciled ruleset.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateNoTable  State = "no-table"
	StateNoChain  State = "no-chain"
)

// Rule is the backend-agnostic description of one packet-filter rule,
// derived 1:1 from a strategy.FilterRule.
type Rule struct {
	Protocol string // "tcp" or "udp"
	Ports    string // comma-separated singletons and "lo-hi" ranges
	QueueNum int
}

// Status is the read-only snapshot returned by Reconciler.Status.
type Status struct {
	Kind      BackendKind
	State     State
	RuleCount int
}

// Reconciler is the polymorphic contract both backends satisfy.
type Reconciler interface {
	// Setup installs exactly the given rules for iface (AnyInterface
	// meaning no interface predicate), removing any prior tagged
	// artefacts first. On the nftables backend, routerMode additionally
	// installs a postrouting masquerade rule when iface is a concrete
	// interface name; the iptables backend ignores routerMode.
	Setup(ctx context.Context, rules []Rule, iface string, routerMode bool) error

	// Cleanup removes every object bearing Tag. Idempotent; a missing
	// object is success, not failure.
	Cleanup(ctx context.Context) error

	// Status reports the current reconciled state without mutating it.
	Status(ctx context.Context) (Status, error)

	// Kind identifies which backend this is.
	Kind() BackendKind
}
