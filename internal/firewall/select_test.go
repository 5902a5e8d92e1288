package firewall

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	kind      BackendKind
	probeErr  error
	createErr error
}

func (f *fakeProber) Setup(context.Context, []Rule, string, bool) error { return nil }
func (f *fakeProber) Cleanup(context.Context) error                     { return nil }
func (f *fakeProber) Status(context.Context) (Status, error)            { return Status{Kind: f.kind}, nil }
func (f *fakeProber) Kind() BackendKind                                 { return f.kind }
func (f *fakeProber) Probe() error                                      { return f.probeErr }

func TestSelect_PrefersNftablesWhenProbeSucceeds(t *testing.T) {
	r, err := selectFrom(
		func() (prober, error) { return &fakeProber{kind: Nftables}, nil },
		func() (prober, error) { return &fakeProber{kind: Iptables}, nil },
	)
	require.NoError(t, err)
	require.Equal(t, Nftables, r.Kind())
}

func TestSelect_FallsBackToIptablesWhenNftProbeFails(t *testing.T) {
	r, err := selectFrom(
		func() (prober, error) { return &fakeProber{kind: Nftables, probeErr: fmt.Errorf("permission denied")}, nil },
		func() (prober, error) { return &fakeProber{kind: Iptables}, nil },
	)
	require.NoError(t, err)
	require.Equal(t, Iptables, r.Kind())
}

func TestSelect_NoBackendAvailable(t *testing.T) {
	_, err := selectFrom(
		func() (prober, error) { return nil, fmt.Errorf("nft missing") },
		func() (prober, error) { return nil, fmt.Errorf("iptables missing") },
	)
	require.Error(t, err)
}
