package haclient

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultHost and DefaultPort are the address-parsing defaults from
// spec.md §4.4.
const (
	DefaultHost = "localhost"
	DefaultPort = uint16(5672)
)

// BrokerAddress names one broker endpoint plus its stable priority
// position, per spec.md §3.
type BrokerAddress struct {
	Host  string
	Port  uint16
	Index uint16
}

// Alias is the human-readable position label "b<index>".
func (a BrokerAddress) Alias() string {
	return fmt.Sprintf("b%d", a.Index)
}

// Identity is the serialized identity "rs-broker-<host with - -> ~>-<port>".
func (a BrokerAddress) Identity() string {
	return fmt.Sprintf("rs-broker-%s-%d", strings.ReplaceAll(a.Host, "-", "~"), a.Port)
}

// ParseIdentity recovers the host and port encoded in an identity string
// formed by BrokerAddress.Identity. It only round-trips correctly for
// hosts that contain no literal '~', per spec.md §8 invariant 1.
func ParseIdentity(identity string) (host string, port uint16, err error) {
	const prefix = "rs-broker-"
	if !strings.HasPrefix(identity, prefix) {
		return "", 0, fmt.Errorf("haclient: %q is not a broker identity", identity)
	}
	rest := identity[len(prefix):]
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return "", 0, fmt.Errorf("haclient: %q is not a broker identity", identity)
	}
	hostPart, portPart := rest[:idx], rest[idx+1:]
	p, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("haclient: %q has a non-numeric port: %w", identity, err)
	}
	return strings.ReplaceAll(hostPart, "~", "-"), uint16(p), nil
}

// ParseAddresses builds the ordered broker address list from comma
// separated host and port specs, per spec.md §4.4.
//
// Each element of hostSpec/portSpec may carry an explicit index after a
// ':' (e.g. "broker1.example.com:2"); an element without one defaults to
// its zero-based position in its own list.
func ParseAddresses(hostSpec, portSpec string) ([]BrokerAddress, error) {
	hosts, hostIdx, err := splitIndexed(hostSpec, DefaultHost)
	if err != nil {
		return nil, newError("ParseAddresses", KindInvalidArgument, err)
	}
	ports, portIdx, err := splitIndexed(portSpec, strconv.Itoa(int(DefaultPort)))
	if err != nil {
		return nil, newError("ParseAddresses", KindInvalidArgument, err)
	}

	n := 0
	switch {
	case len(hosts) == len(ports):
		n = len(hosts)
	case len(hosts) == 1:
		n = len(ports)
	case len(ports) == 1:
		n = len(hosts)
	default:
		return nil, newError("ParseAddresses", KindInvalidArgument,
			fmt.Errorf("cannot pair %d hosts with %d ports", len(hosts), len(ports)))
	}

	addrs := make([]BrokerAddress, 0, n)
	for i := 0; i < n; i++ {
		host := pick(hosts, i)
		portStr := pick(ports, i)
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, newError("ParseAddresses", KindInvalidArgument,
				fmt.Errorf("invalid port %q: %w", portStr, err))
		}

		index := uint16(i)
		switch {
		case len(hosts) == n && hostIdx[i] >= 0:
			index = uint16(hostIdx[i])
		case len(ports) == n && portIdx[i] >= 0:
			index = uint16(portIdx[i])
		}

		addrs = append(addrs, BrokerAddress{Host: host, Port: uint16(port), Index: index})
	}

	return addrs, nil
}

// splitIndexed splits a comma-separated "value[:index]" list, returning
// the plain values and a parallel slice of explicit indices (-1 where
// absent). An empty spec yields a single-element list holding def.
func splitIndexed(spec, def string) (values []string, indices []int, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return []string{def}, []int{-1}, nil
	}

	parts := strings.Split(spec, ",")
	values = make([]string, 0, len(parts))
	indices = make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.LastIndex(part, ":"); i >= 0 {
			idx, perr := strconv.Atoi(part[i+1:])
			if perr != nil {
				return nil, nil, fmt.Errorf("invalid index in %q: %w", part, perr)
			}
			values = append(values, part[:i])
			indices = append(indices, idx)
		} else {
			values = append(values, part)
			indices = append(indices, -1)
		}
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("no usable entries in %q", spec)
	}
	return values, indices, nil
}

func pick(values []string, i int) string {
	if len(values) == 1 {
		return values[0]
	}
	return values[i]
}
