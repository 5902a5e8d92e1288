package strategy

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCompile_TwoDirectivesOneLine(t *testing.T) {
	const src = `--filter-tcp=443 arg1 arg2 --new --filter-udp=443 arg3 --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)

	want := &CompiledStrategy{
		Rules: []FilterRule{
			{Protocol: TCP, Ports: "443", QueueNum: 0, BypassOnStall: true},
			{Protocol: UDP, Ports: "443", QueueNum: 1, BypassOnStall: true},
		},
		Workers: []WorkerSpec{
			{QueueNum: 0, Args: []string{"arg1", "arg2"}},
			{QueueNum: 1, Args: []string{"arg3"}},
		},
	}

	if diff := cmp.Diff(want, cs); diff != "" {
		t.Fatalf("compiled strategy mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_QueueNumbersAreDenseAndEqual(t *testing.T) {
	const src = `
--filter-tcp=80 a --new
--filter-udp=443 b --new
--filter-tcp=8080 c --new
`
	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 3)
	require.Len(t, cs.Workers, 3)
	for i := range cs.Rules {
		if cs.Rules[i].QueueNum != i || cs.Workers[i].QueueNum != i {
			t.Fatalf("rule/worker %d: queue mismatch rule=%d worker=%d", i, cs.Rules[i].QueueNum, cs.Workers[i].QueueNum)
		}
	}
}

func TestCompile_GameFilterElision(t *testing.T) {
	const src = `--filter-udp=50000-65000,%GameFilter% args --new`

	cs, err := compileReader(strings.NewReader(src), false, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 1)

	ports := cs.Rules[0].Ports
	if strings.HasPrefix(ports, ",") || strings.HasSuffix(ports, ",") || strings.Contains(ports, ",,") {
		t.Fatalf("malformed port list after elision: %q", ports)
	}
	if ports != "50000-65000" {
		t.Fatalf("got ports %q, want 50000-65000", ports)
	}
}

func TestCompile_GameFilterEnabledSubstitutesRange(t *testing.T) {
	const src = `--filter-udp=1,%GameFilter% args --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 1)
	if cs.Rules[0].Ports != "1,1024-65535" {
		t.Fatalf("got ports %q", cs.Rules[0].Ports)
	}
}

func TestCompile_EmptyFileIsNotAnError(t *testing.T) {
	cs, err := compileReader(strings.NewReader(""), true, "test")
	require.NoError(t, err)
	require.Empty(t, cs.Rules)
	require.Empty(t, cs.Workers)
}

func TestCompile_SkipsCommentsAndServiceLines(t *testing.T) {
	const src = `
:: this is a comment
@echo off
chcp 65001
--filter-tcp=443 a --new
`
	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 1)
}

func TestCompile_NoTerminatingNewConsumesToEndOfLine(t *testing.T) {
	const src = `--filter-tcp=443 --hostlist=lists/x.txt --dpi-desync=fake`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Workers, 1)
	require.Equal(t, []string{"--hostlist=lists/x.txt", "--dpi-desync=fake"}, cs.Workers[0].Args)
}

func TestCompile_EmptyArgsYieldsEmptyWorkerArgs(t *testing.T) {
	const src = `--filter-tcp=443 --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 1)
	require.Empty(t, cs.Workers[0].Args)
}

func TestCompile_CaretBangNormalization(t *testing.T) {
	const src = `--filter-tcp=443 --dpi-desync-fooling=badseq --x=^! --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Contains(t, cs.Workers[0].Args, "--x=!")
}

func TestCompile_QuoteAwareArgSplitting(t *testing.T) {
	const src = `--filter-tcp=443 --hostlist="lists/a b.txt" --dpi-desync=fake --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Equal(t, []string{`--hostlist=lists/a b.txt`, "--dpi-desync=fake"}, cs.Workers[0].Args)
}

func TestCompile_BinAndListsSubstitutionCommute(t *testing.T) {
	const srcBinFirst = `--filter-tcp=443 --hostlist=%LISTS%x.txt --exe=%BIN%nfqws --new`

	cs, err := compileReader(strings.NewReader(srcBinFirst), true, "test")
	require.NoError(t, err)
	require.Equal(t, []string{"--hostlist=lists/x.txt", "--exe=bin/nfqws"}, cs.Workers[0].Args)
}

func TestCompile_CRLFLineEndingsTolerated(t *testing.T) {
	src := "--filter-tcp=443 a --new\r\n--filter-udp=80 b --new\r\n"

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Len(t, cs.Rules, 2)
}

func TestCompile_DegeneratePortRange(t *testing.T) {
	const src = `--filter-tcp=443-443 a --new`

	cs, err := compileReader(strings.NewReader(src), true, "test")
	require.NoError(t, err)
	require.Equal(t, "443-443", cs.Rules[0].Ports)
}
