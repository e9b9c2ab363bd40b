package netprobe

import (
	"net"
	"testing"
)

func TestPathLabel(t *testing.T) {
	tests := []struct {
		name string
		path Path
		want string
	}{
		{"empty", Path{}, "unknown"},
		{"interface only", Path{Interface: "en0"}, "en0"},
		{"with public", Path{Interface: "en0", PublicIP: net.ParseIP("203.0.113.9")}, "en0 (203.0.113.9)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.path.Label(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOutboundIPLoopback(t *testing.T) {
	ip, err := outboundIP("127.0.0.1:9")
	if err != nil {
		t.Fatalf("outboundIP: %v", err)
	}
	if !ip.IsLoopback() {
		t.Fatalf("expected loopback route, got %s", ip)
	}
}

func TestInterfaceForLoopback(t *testing.T) {
	name, err := interfaceFor(net.ParseIP("127.0.0.1"))
	if err != nil {
		t.Skipf("no loopback interface visible: %v", err)
	}
	if name == "" {
		t.Fatal("expected a non-empty interface name")
	}
}
