//go:build linux

package firewall

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/google/nftables/userdata"
	"golang.org/x/sys/unix"

	"github.com/zapretctl/zapret-ng/internal/config"
	"github.com/zapretctl/zapret-ng/internal/errs"
)

// markExcluded is the packet mark (meta mark) workers set on
// already-handled packets so the modern backend never re-queues its own
// output.
const markExcluded = 0x40000000

// nftConn is the subset of *nftables.Conn this backend drives. Tests
// substitute a recording fake; production uses realNftConn.
type nftConn interface {
	AddTable(*nftables.Table) *nftables.Table
	DelTable(*nftables.Table)
	AddChain(*nftables.Chain) *nftables.Chain
	AddRule(*nftables.Rule) *nftables.Rule
	GetRules(*nftables.Table, *nftables.Chain) ([]*nftables.Rule, error)
	DelRule(*nftables.Rule) error
	ListTables() ([]*nftables.Table, error)
	AddSet(*nftables.Set, []nftables.SetElement) error
	Flush() error
}

type realNftConn struct{ *nftables.Conn }

// NftablesBackend reconciles rules through github.com/google/nftables.
type NftablesBackend struct {
	mu   sync.Mutex
	conn nftConn
}

// NewNftablesBackend creates a backend over a live nftables netlink
// connection.
func NewNftablesBackend() (*NftablesBackend, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "connect")
	}
	return newNftablesBackendWithConn(realNftConn{conn}), nil
}

func newNftablesBackendWithConn(conn nftConn) *NftablesBackend {
	return &NftablesBackend{conn: conn}
}

func (b *NftablesBackend) Kind() BackendKind { return Nftables }

// Probe reports whether the nft control surface is usable, per the
// backend-selection non-mutating probe ("list tables").
func (b *NftablesBackend) Probe() error {
	_, err := b.conn.ListTables()
	if err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "probe")
	}
	return nil
}

func (b *NftablesBackend) Setup(ctx context.Context, rules []Rule, iface string, routerMode bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.cleanupLocked(); err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "setup-cleanup")
	}

	table := b.conn.AddTable(&nftables.Table{Family: nftables.TableFamilyINet, Name: Tag})
	chain := b.conn.AddChain(&nftables.Chain{
		Name:     "output",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
	})

	for _, r := range rules {
		exprs, err := b.buildRuleExprs(table, r, iface)
		if err != nil {
			return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "build-rule", "queue", r.QueueNum)
		}
		b.conn.AddRule(&nftables.Rule{
			Table:    table,
			Chain:    chain,
			Exprs:    exprs,
			UserData: userdata.AppendString(nil, userdata.TypeComment, Tag),
		})
	}

	if routerMode && iface != config.AnyInterface {
		if err := b.addMasqueradeLocked(iface); err != nil {
			return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "masquerade")
		}
	}

	if err := b.conn.Flush(); err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "flush")
	}
	return nil
}

func (b *NftablesBackend) addMasqueradeLocked(iface string) error {
	natTable := b.conn.AddTable(&nftables.Table{Family: nftables.TableFamilyINet, Name: Tag + "-nat"})
	postrouting := b.conn.AddChain(&nftables.Chain{
		Name:     "postrouting",
		Table:    natTable,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})
	b.conn.AddRule(&nftables.Rule{
		Table: natTable,
		Chain: postrouting,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(iface)},
			&expr.Masq{},
		},
		UserData: userdata.AppendString(nil, userdata.TypeComment, Tag),
	})
	return nil
}

// buildRuleExprs builds the expression list for one FilterRule: optional
// output-interface predicate, mark-exclusion predicate (always present in
// this backend per the spec's alignment decision), protocol+port
// predicate, counter, queue-with-bypass.
func (b *NftablesBackend) buildRuleExprs(table *nftables.Table, r Rule, iface string) ([]expr.Any, error) {
	var exprs []expr.Any

	if iface != config.AnyInterface && iface != "" {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(iface)},
		)
	}

	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyMARK, Register: 1},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binary4(markExcluded)},
	)

	protoNum := uint8(unix.IPPROTO_TCP)
	if r.Protocol == "udp" {
		protoNum = uint8(unix.IPPROTO_UDP)
	}
	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{protoNum}},
	)

	portExprs, err := b.buildPortExprs(table, r)
	if err != nil {
		return nil, err
	}
	exprs = append(exprs, portExprs...)

	exprs = append(exprs, &expr.Counter{})
	exprs = append(exprs, &expr.Queue{Num: uint16(r.QueueNum), Flag: expr.QueueFlagBypass})

	return exprs, nil
}

// buildPortExprs loads the destination port into register 1 and matches
// it against every singleton/range in the rule's port expression. A
// single singleton or range is a plain Cmp/Range; multiple tokens are
// matched with an anonymous set lookup, the idiomatic nftables way to
// express "port in {...}".
func (b *NftablesBackend) buildPortExprs(table *nftables.Table, r Rule) ([]expr.Any, error) {
	specs, err := ParsePorts(r.Ports)
	if err != nil {
		return nil, err
	}

	exprs := []expr.Any{
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
	}

	if len(specs) == 1 && specs[0].Lo == specs[0].Hi {
		exprs = append(exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryPort(specs[0].Lo)})
		return exprs, nil
	}
	if len(specs) == 1 {
		exprs = append(exprs, &expr.Range{
			Op:       expr.CmpOpEq,
			Register: 1,
			FromData: binaryPort(specs[0].Lo),
			ToData:   binaryPort(specs[0].Hi),
		})
		return exprs, nil
	}

	var needsInterval bool
	for _, s := range specs {
		if s.Lo != s.Hi {
			needsInterval = true
		}
	}

	set := &nftables.Set{
		Table:     table,
		Name:      fmt.Sprintf("ports_q%d", r.QueueNum),
		Anonymous: true,
		Constant:  true,
		Interval:  needsInterval,
		KeyType:   nftables.TypeInetService,
	}

	var elems []nftables.SetElement
	for _, s := range specs {
		if s.Lo == s.Hi {
			elems = append(elems, nftables.SetElement{Key: binaryPort(s.Lo)})
			continue
		}
		elems = append(elems,
			nftables.SetElement{Key: binaryPort(s.Lo)},
			nftables.SetElement{Key: binaryPort(s.Hi + 1), IntervalEnd: true},
		)
	}

	if err := b.conn.AddSet(set, elems); err != nil {
		return nil, fmt.Errorf("create port set: %w", err)
	}

	exprs = append(exprs, &expr.Lookup{SourceRegister: 1, SetName: set.Name, SetID: set.ID})
	return exprs, nil
}

// tableChains maps each tagged table name to the single chain this
// backend ever creates inside it, so cleanup queries the chain that
// actually exists rather than assuming "output" everywhere.
var tableChains = map[string]string{
	Tag:          "output",
	Tag + "-nat": "postrouting",
}

// cleanupLocked implements Cleanup while already holding b.mu.
func (b *NftablesBackend) cleanupLocked() error {
	tables, err := b.conn.ListTables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		chainName, tagged := tableChains[t.Name]
		if !tagged {
			continue
		}
		rules, err := b.conn.GetRules(t, &nftables.Chain{Name: chainName, Table: t})
		if err != nil {
			// No such chain is equivalent to "nothing to remove".
			continue
		}
		remaining := 0
		for _, r := range rules {
			comment, ok := userdata.GetString(r.UserData, userdata.TypeComment)
			if !ok || comment != Tag {
				remaining++
				continue
			}
			if err := b.conn.DelRule(r); err != nil {
				return err
			}
		}
		if remaining == 0 {
			b.conn.DelTable(t)
		}
	}
	return b.conn.Flush()
}

func (b *NftablesBackend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.cleanupLocked(); err != nil {
		return errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "cleanup")
	}
	return nil
}

func (b *NftablesBackend) Status(ctx context.Context) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tables, err := b.conn.ListTables()
	if err != nil {
		return Status{}, errs.New(errs.FirewallSetup, err, "backend", Nftables, "operation", "status")
	}
	for _, t := range tables {
		if t.Name != Tag {
			continue
		}
		rules, err := b.conn.GetRules(t, &nftables.Chain{Name: "output", Table: t})
		if err != nil {
			return Status{Kind: Nftables, State: StateNoChain}, nil
		}
		count := 0
		for _, r := range rules {
			if comment, ok := userdata.GetString(r.UserData, userdata.TypeComment); ok && comment == Tag {
				count++
			}
		}
		state := StateInactive
		if count > 0 {
			state = StateActive
		}
		return Status{Kind: Nftables, State: state, RuleCount: count}, nil
	}
	return Status{Kind: Nftables, State: StateNoTable}, nil
}

func ifname(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}

func binaryPort(port uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, port)
	return b
}

func binary4(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
