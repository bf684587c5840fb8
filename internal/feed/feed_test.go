package feed

import (
	"encoding/json"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/nsg-ethz/bgpsim/network"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	n := network.New(network.Config{PrefixKind: prefix.Simple})
	e0, err := n.AddExternalRouter("e0", 1)
	if err != nil {
		t.Fatalf("AddExternalRouter: %v", err)
	}
	b0, err := n.AddRouter("b0")
	if err != nil {
		t.Fatalf("AddRouter: %v", err)
	}
	if err := n.AddLink(e0, b0); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	typ := network.EBgp
	if err := n.SetBgpSession(e0, b0, &typ); err != nil {
		t.Fatalf("SetBgpSession: %v", err)
	}
	return n
}

func record(t *testing.T, ev RouteEvent) *kgo.Record {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return &kgo.Record{Topic: "routes", Value: data}
}

func TestApplyAdvertiseAndWithdraw(t *testing.T) {
	n := testNetwork(t)
	f := &Feed{net: n, logger: zap.NewNop()}

	med := uint32(5)
	if !f.applyRecord(record(t, RouteEvent{
		Router:      "e0",
		Action:      "A",
		Prefix:      "100.0.0.0/8",
		Path:        []uint32{1, 2},
		Med:         &med,
		Communities: []string{"0:42"},
	})) {
		t.Fatalf("advertise event rejected")
	}
	if err := n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	p := prefix.MustParse("100.0.0.0/8")
	b0, _ := n.Rid("b0")
	fs, err := n.ForwardingState()
	if err != nil {
		t.Fatalf("ForwardingState: %v", err)
	}
	entry, ok := fs.Entry(b0, p)
	if !ok {
		t.Fatalf("route not installed")
	}
	if entry.Route.Med != 5 || !entry.Route.HasCommunity(route.Community(42)) {
		t.Errorf("attributes lost: med=%d communities=%v", entry.Route.Med, entry.Route.Communities)
	}

	if !f.applyRecord(record(t, RouteEvent{Router: "e0", Action: "D", Prefix: "100.0.0.0/8"})) {
		t.Fatalf("withdraw event rejected")
	}
	if err := n.Simulate(); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	fs, err = n.ForwardingState()
	if err != nil {
		t.Fatalf("ForwardingState: %v", err)
	}
	if _, ok := fs.Entry(b0, p); ok {
		t.Errorf("route survived withdrawal")
	}
}

func TestApplyRejectsMalformed(t *testing.T) {
	n := testNetwork(t)
	f := &Feed{net: n, logger: zap.NewNop()}

	cases := []struct {
		name string
		rec  *kgo.Record
	}{
		{"garbage payload", &kgo.Record{Topic: "routes", Value: []byte("{")}},
		{"unknown router", record(t, RouteEvent{Router: "ghost", Action: "A", Prefix: "10.0.0.0/8"})},
		{"bad prefix", record(t, RouteEvent{Router: "e0", Action: "A", Prefix: "x"})},
		{"bad community", record(t, RouteEvent{Router: "e0", Action: "A", Prefix: "10.0.0.0/8", Communities: []string{"zz"}})},
		{"unknown action", record(t, RouteEvent{Router: "e0", Action: "X", Prefix: "10.0.0.0/8"})},
		{"withdraw of nothing", record(t, RouteEvent{Router: "e0", Action: "D", Prefix: "10.0.0.0/8"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if f.applyRecord(tc.rec) {
				t.Errorf("malformed record applied")
			}
		})
	}
}
