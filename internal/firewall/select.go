package firewall

import (
	"context"

	"github.com/zapretctl/zapret-ng/internal/errs"
)

// prober is satisfied by both concrete backends; it exposes the
// non-mutating availability check backend selection needs before a
// Reconciler is handed to the session controller.
type prober interface {
	Reconciler
	Probe() error
}

// Select returns the modern nftables backend if its control tool is
// invocable and its probe succeeds; otherwise the legacy iptables backend
// if its probe succeeds; otherwise ErrFirewallSetup/no-backend.
func Select(ctx context.Context) (Reconciler, error) {
	return selectFrom(
		func() (prober, error) { return NewNftablesBackend() },
		func() (prober, error) { return NewIptablesBackend() },
	)
}

func selectFrom(nftFactory, iptFactory func() (prober, error)) (Reconciler, error) {
	if nft, err := nftFactory(); err == nil {
		if probeErr := nft.Probe(); probeErr == nil {
			return nft, nil
		}
	}

	if ipt, err := iptFactory(); err == nil {
		if probeErr := ipt.Probe(); probeErr == nil {
			return ipt, nil
		}
	}

	return nil, errs.New(errs.FirewallSetup, errNoBackend{})
}

type errNoBackend struct{}

func (errNoBackend) Error() string { return "no usable firewall backend (nft and iptables both unavailable)" }

var _ prober = (*NftablesBackend)(nil)
var _ prober = (*IptablesBackend)(nil)
