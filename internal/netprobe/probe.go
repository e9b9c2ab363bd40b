package netprobe

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"
)

// Path describes the network path that will carry the migration.
type Path struct {
	Interface string // local interface name, e.g. "en0"
	LocalIP   net.IP
	PublicIP  net.IP // STUN-resolved mapping, nil when probing failed
}

// Label is the display name of the path for the published state surface.
func (p Path) Label() string {
	if p.Interface == "" {
		return "unknown"
	}
	if p.PublicIP != nil {
		return fmt.Sprintf("%s (%s)", p.Interface, p.PublicIP)
	}
	return p.Interface
}

// Discover identifies the active network path toward the given target
// address: the outbound interface the OS routes through, plus the public
// mapping resolved from the first reachable STUN server. STUN failure is not
// fatal; the interface alone still labels the path.
func Discover(targetAddr string, stunServers []string, logger *slog.Logger) (Path, error) {
	local, err := outboundIP(targetAddr)
	if err != nil {
		return Path{}, fmt.Errorf("cannot determine outbound address: %w", err)
	}

	path := Path{LocalIP: local}
	if iface, err := interfaceFor(local); err == nil {
		path.Interface = iface
	} else {
		logger.Warn("cannot resolve interface for local address", "addr", local, "error", err)
	}

	if pub, err := resolvePublic(stunServers, logger); err == nil {
		path.PublicIP = pub
	} else {
		logger.Warn("STUN probing failed, path label stays local", "error", err)
	}

	return path, nil
}

// outboundIP asks the routing table which local address reaches the target.
// No packet is sent; connecting a UDP socket only selects a route.
func outboundIP(targetAddr string) (net.IP, error) {
	conn, err := net.Dial("udp", targetAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

func interfaceFor(ip net.IP) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.Equal(ip) {
				return iface.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no interface carries %s", ip)
}

// resolvePublic sends a STUN binding request to each server in turn and
// returns the first mapped address.
func resolvePublic(servers []string, logger *slog.Logger) (net.IP, error) {
	for _, server := range servers {
		addrStr := strings.TrimPrefix(server, "stun:")

		conn, err := net.DialTimeout("udp", addrStr, 2*time.Second)
		if err != nil {
			logger.Debug("STUN server unreachable", "server", addrStr, "error", err)
			continue
		}

		ip, err := bindingRequest(conn)
		conn.Close()
		if err != nil {
			logger.Debug("STUN binding request failed", "server", addrStr, "error", err)
			continue
		}
		logger.Debug("public address resolved", "server", addrStr, "addr", ip)
		return ip, nil
	}
	return nil, fmt.Errorf("all STUN servers failed")
}

func bindingRequest(conn net.Conn) (net.IP, error) {
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(msg.Raw); err != nil {
		return nil, err
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return nil, err
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return xorAddr.IP, nil
	}
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err != nil {
		return nil, err
	}
	return mapped.IP, nil
}
