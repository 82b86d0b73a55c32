package oid

import "strings"

// Table roots and scalars polled from managed switches.
const (
	// BRIDGE-MIB dot1dTpFdbPort, indexed by the six MAC octets.
	Dot1dTpFdbPort = "1.3.6.1.2.1.17.4.3.1.2"
	// Q-BRIDGE-MIB dot1qTpFdbPort, indexed by FDB id followed by the MAC.
	Dot1qTpFdbPort = "1.3.6.1.2.1.17.7.1.2.2.1.2"

	// LLDP-MIB lldpRemChassisId, indexed by timeMark.localPortNum.remIndex.
	LldpRemChassisID = "1.0.8802.1.1.2.1.4.1.1.5"
	// CISCO-CDP-MIB cdpCacheDeviceId, indexed by ifIndex.deviceIndex.
	CdpCacheDeviceID = "1.3.6.1.4.1.9.9.23.1.2.1.1.6"

	// BRIDGE-MIB dot1dBasePortIfIndex, bridge port to ifIndex.
	Dot1dBasePortIfIndex = "1.3.6.1.2.1.17.1.4.1.2"

	// SNMPv2-MIB system group and the scalars read or written in it.
	System      = "1.3.6.1.2.1.1"
	SysDescr    = "1.3.6.1.2.1.1.1.0"
	SysUpTime   = "1.3.6.1.2.1.1.3.0"
	SysContact  = "1.3.6.1.2.1.1.4.0"
	SysName     = "1.3.6.1.2.1.1.5.0"
	SysLocation = "1.3.6.1.2.1.1.6.0"

	// RMON-MIB logDescription, the agent's event log.
	LogDescription = "1.3.6.1.2.1.16.9.2.1.4"
)

// Normalize removes leading and trailing dots.
func Normalize(o string) string {
	return strings.Trim(o, ".")
}

// Cut reports whether identifier lies under root and returns the index
// segments that follow it.
//
//	Cut("1.3.6.1.2.1.17.4.3.1.2.0.1.2.3.4.5", Dot1dTpFdbPort) == ("0.1.2.3.4.5", true)
func Cut(identifier, root string) (string, bool) {
	root = Normalize(root) + "."
	identifier = strings.TrimPrefix(identifier, ".")
	if !strings.HasPrefix(identifier, root) {
		return "", false
	}
	return identifier[len(root):], true
}
