package stamp

import "fmt"

// Protocol is the first byte of a stamp.
type Protocol byte

const (
	Plain           Protocol = 0x00
	DNSCrypt        Protocol = 0x01
	DoH             Protocol = 0x02
	DoT             Protocol = 0x03
	DoQ             Protocol = 0x04
	ODoHTarget      Protocol = 0x05
	AnonymizedRelay Protocol = 0x81
	ODoHRelay       Protocol = 0x85
)

var protocolNames = map[Protocol]string{
	Plain:           "Plain",
	DNSCrypt:        "DNSCrypt",
	DoH:             "DoH",
	DoT:             "DoT",
	DoQ:             "DoQ",
	ODoHTarget:      "ODoHTarget",
	AnonymizedRelay: "AnonymizedRelay",
	ODoHRelay:       "ODoHRelay",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Other(0x%02x)", byte(p))
}

// Props is the informal properties bit-mask of a stamp. It is kept verbatim.
type Props uint64

const (
	PropDNSSEC   Props = 1 << 0
	PropNoLog    Props = 1 << 1
	PropNoFilter Props = 1 << 2
)

// Has reports whether every bit of flag is set.
func (p Props) Has(flag Props) bool { return p&flag == flag }
