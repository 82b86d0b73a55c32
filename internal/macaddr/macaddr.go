// Package macaddr converts hardware addresses between the forms switches
// report them in and the canonical form stored by go-locate: twelve
// lowercase hex characters without separators.
package macaddr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Octets is the number of octets in a hardware address.
const Octets = 6

var (
	// ErrMalformedIdentifier is returned for OID identifiers that do not end
	// in six decimal octets.
	ErrMalformedIdentifier = errors.New("malformed forwarding identifier")

	// ErrMalformedAddress is returned for hardware address strings that do
	// not match any accepted notation.
	ErrMalformedAddress = errors.New("malformed hardware address")
)

var (
	reColon = regexp.MustCompile(`^[0-9a-fA-F]{2}([:-][0-9a-fA-F]{2}){5}$`)
	reCisco = regexp.MustCompile(`^[0-9a-fA-F]{4}\.[0-9a-fA-F]{4}\.[0-9a-fA-F]{4}$`)
	reBare  = regexp.MustCompile(`^[0-9a-fA-F]{12}$`)
)

// DecodeForwardingIdentifier strips prefix from a table identifier such as
// "1.3.6.1.2.1.17.4.3.1.2.0.27.150.10.200.5" and decodes the remainder.
func DecodeForwardingIdentifier(identifier, prefix string) (string, error) {
	identifier = strings.TrimPrefix(identifier, ".")
	prefix = strings.Trim(prefix, ".") + "."

	if !strings.HasPrefix(identifier, prefix) {
		return "", fmt.Errorf("%w: %q outside table %q", ErrMalformedIdentifier, identifier, strings.TrimSuffix(prefix, "."))
	}
	return DecodeOctets(strings.TrimPrefix(identifier, prefix))
}

// DecodeOctets decodes a dot-separated decimal suffix. The last six segments
// are the address; any leading segments (a Q-BRIDGE FDB id or VLAN) must be
// decimal but are otherwise ignored.
//
//	DecodeOctets("0.27.150.10.200.5.18") == "1b960ac80512"
func DecodeOctets(suffix string) (string, error) {
	parts := strings.Split(suffix, ".")
	if suffix == "" || len(parts) < Octets {
		return "", fmt.Errorf("%w: %q has fewer than %d segments", ErrMalformedIdentifier, suffix, Octets)
	}

	lead := len(parts) - Octets
	for _, p := range parts[:lead] {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			return "", fmt.Errorf("%w: segment %q in %q", ErrMalformedIdentifier, p, suffix)
		}
	}

	raw := make([]byte, Octets)
	for i, p := range parts[lead:] {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return "", fmt.Errorf("%w: octet %q in %q", ErrMalformedIdentifier, p, suffix)
		}
		raw[i] = byte(n)
	}
	return hex.EncodeToString(raw), nil
}

// EncodeOctets is the inverse of DecodeOctets for a canonical address.
func EncodeOctets(mac string) (string, error) {
	raw, err := hex.DecodeString(mac)
	if err != nil || len(raw) != Octets {
		return "", fmt.Errorf("%w: %q", ErrMalformedAddress, mac)
	}
	parts := make([]string, Octets)
	for i, b := range raw {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, "."), nil
}

// FromBytes canonicalises a raw octet string, as returned for
// dot1dTpFdbAddress values.
func FromBytes(b []byte) (string, error) {
	if len(b) != Octets {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedAddress, len(b))
	}
	return hex.EncodeToString(b), nil
}

// Normalize accepts the usual notations (aa:bb:cc:dd:ee:ff, aa-bb-...,
// aabb.ccdd.eeff, aabbccddeeff) and returns the canonical form.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case reColon.MatchString(s):
		s = strings.NewReplacer(":", "", "-", "").Replace(s)
	case reCisco.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	case reBare.MatchString(s):
	default:
		return "", fmt.Errorf("%w: %q", ErrMalformedAddress, s)
	}
	return strings.ToLower(s), nil
}

// Format renders a canonical address with colon separators for display.
func Format(mac string) string {
	if len(mac) != 2*Octets {
		return mac
	}
	var b strings.Builder
	for i := 0; i < len(mac); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(mac[i : i+2])
	}
	return b.String()
}
