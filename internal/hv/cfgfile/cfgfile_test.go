package cfgfile

import (
	"os"
	"strings"
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/atmfab"
	"github.com/GNS3/dynamips-fabric/internal/nio"
	"github.com/GNS3/dynamips-fabric/internal/registry"
)

func TestScanLinesTruncatesCommentsAndSkipsNonStatementLines(t *testing.T) {
	input := `# a full comment line
IF:A:NULL # trailing comment
no colon here, skip me

IF:B:NULL`
	var got [][]string
	if err := ScanLines(strings.NewReader(input), func(tokens []string) error {
		got = append(got, tokens)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
	if got[0][0] != "IF" || got[0][1] != "A" || strings.Contains(got[0][2], "#") {
		t.Fatalf("comment not truncated: %v", got[0])
	}
	if got[1][1] != "B" {
		t.Fatalf("expected second statement for B, got %v", got[1])
	}
}

func TestCreateInterfaceUDP(t *testing.T) {
	reg := registry.New()
	tokens := []string{"IF", "A", "UDP", "10000", "127.0.0.1", "20000"}
	if err := CreateInterface(reg, tokens); err != nil {
		t.Fatalf("CreateInterface: %v", err)
	}
	h, err := reg.Find("A", registry.TypeNIO)
	if err != nil {
		t.Fatalf("registered NIO not found: %v", err)
	}
	defer h.Release()
	n := h.Data().(*nio.NIO)
	if n.Kind != nio.KindUDP {
		t.Fatalf("expected KindUDP, got %v", n.Kind)
	}
	n.Close()
}

func TestCreateInterfaceUnknownType(t *testing.T) {
	reg := registry.New()
	if err := CreateInterface(reg, []string{"IF", "A", "BOGUS"}); err == nil {
		t.Fatal("expected an error for an unknown NETIO type")
	}
}

func TestLoadATMSwitchCreatesVPCAndVCC(t *testing.T) {
	reg := registry.New()
	sw := atmfab.NewSwitch("sw0")

	cfg := `IF:A:NULL
IF:B:NULL
VP:A:1:B:2
VC:A:10:20:B:30:40`

	if err := LoadATMSwitch(reg, sw, strings.NewReader(cfg)); err != nil {
		t.Fatalf("LoadATMSwitch: %v", err)
	}

	ha, err := reg.Find("A", registry.TypeNIO)
	if err != nil {
		t.Fatal(err)
	}
	defer ha.Release()
	hb, err := reg.Find("B", registry.TypeNIO)
	if err != nil {
		t.Fatal(err)
	}
	defer hb.Release()

	// The VPC we loaded already occupies VPI 1 on A, so creating it again
	// must fail with ErrVPExists -- proof the config file actually wired
	// the connection into the switch, not just parsed it.
	if err := sw.CreateVPC(ha.Data().(*nio.NIO), hb.Data().(*nio.NIO), 1, 2); err == nil {
		t.Fatal("expected a duplicate VPC error after the config file created VPI 1 on A")
	}
}

func TestLoadATMSwitchRejectsUnknownStatement(t *testing.T) {
	reg := registry.New()
	sw := atmfab.NewSwitch("sw0")
	if err := LoadATMSwitch(reg, sw, strings.NewReader("BOGUS:1:2:3")); err == nil {
		t.Fatal("expected an error for a statement type not valid in an ATM switch config file")
	}
}

func TestLoadATMBridgeConfigures(t *testing.T) {
	reg := registry.New()
	br := atmfab.NewBridge("br0")

	cfg := `IF:eth0:NULL
IF:atm0:NULL
BRIDGE:eth0:atm0:1:100`

	if err := LoadATMBridge(reg, br, strings.NewReader(cfg)); err != nil {
		t.Fatalf("LoadATMBridge: %v", err)
	}

	// Configuring again on an already-configured bridge must fail --
	// proof the BRIDGE statement actually reached atmfab.Bridge.Configure.
	heth, _ := reg.Find("eth0", registry.TypeNIO)
	defer heth.Release()
	hatm, _ := reg.Find("atm0", registry.TypeNIO)
	defer hatm.Release()
	if err := br.Configure(heth.Data().(*nio.NIO), hatm.Data().(*nio.NIO), 1, 100); err == nil {
		t.Fatal("expected an error reconfiguring an already-configured bridge")
	}
}

func TestStartATMSwitchFromFile(t *testing.T) {
	reg := registry.New()
	path := writeTempConfig(t, "IF:A:NULL\nIF:B:NULL\nVP:A:1:B:2\n")

	if err := StartATMSwitch(reg, "default", path); err != nil {
		t.Fatalf("StartATMSwitch: %v", err)
	}
	h, err := reg.Find("default", registry.TypeATMSwitch)
	if err != nil {
		t.Fatalf("switch not registered: %v", err)
	}
	h.Release()
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfgfile-*.cfg")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(contents); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
