// File: reactor/sockaddr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"encoding/binary"
	"net/netip"
	"strconv"

	"github.com/momentics/hioload-uring/api"
)

// decodeSockaddr reads the sockaddr_in/sockaddr_in6 accept wrote. Other
// families yield the zero AddrPort.
func decodeSockaddr(sa *api.Sockaddr) netip.AddrPort {
	if sa.Len < 4 {
		return netip.AddrPort{}
	}
	port := binary.BigEndian.Uint16(sa.Raw[2:4])
	switch binary.NativeEndian.Uint16(sa.Raw[0:2]) {
	case api.AFInet:
		if sa.Len < 16 {
			return netip.AddrPort{}
		}
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(sa.Raw[4:8])), port)
	case api.AFInet6:
		if sa.Len < 28 {
			return netip.AddrPort{}
		}
		addr := netip.AddrFrom16([16]byte(sa.Raw[8:24]))
		if scope := binary.NativeEndian.Uint32(sa.Raw[24:28]); scope != 0 {
			addr = addr.WithZone(strconv.FormatUint(uint64(scope), 10))
		}
		return netip.AddrPortFrom(addr, port)
	}
	return netip.AddrPort{}
}
