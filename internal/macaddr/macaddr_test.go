package macaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fdbPort = "1.3.6.1.2.1.17.4.3.1.2"

func TestDecodeOctets(t *testing.T) {
	tests := map[string]struct {
		suffix  string
		want    string
		wantErr bool
	}{
		"six octets":             {suffix: "0.27.150.10.200.5", want: "001b960ac805"},
		"leading fdb id dropped": {suffix: "0.27.150.10.200.5.18", want: "1b960ac80512"},
		"vlan above 255":         {suffix: "1000.170.187.204.221.238.255", want: "aabbccddeeff"},
		"all zero":               {suffix: "0.0.0.0.0.0", want: "000000000000"},
		"too few segments":       {suffix: "1.2.3.4.5", wantErr: true},
		"empty":                  {suffix: "", wantErr: true},
		"octet out of range":     {suffix: "1.2.3.4.5.256", wantErr: true},
		"non decimal octet":      {suffix: "1.2.3.4.5.ff", wantErr: true},
		"negative octet":         {suffix: "1.2.3.4.5.-1", wantErr: true},
		"empty segment":          {suffix: "1.2..4.5.6", wantErr: true},
		"non decimal leading":    {suffix: "x.1.2.3.4.5.6", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeOctets(tc.suffix)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got, 2*Octets)
		})
	}
}

func TestDecodeForwardingIdentifier(t *testing.T) {
	got, err := DecodeForwardingIdentifier("."+fdbPort+".0.27.150.10.200.5.18", fdbPort)
	require.NoError(t, err)
	assert.Equal(t, "1b960ac80512", got)

	got, err = DecodeForwardingIdentifier(fdbPort+".170.187.204.221.238.255", "."+fdbPort+".")
	require.NoError(t, err)
	assert.Equal(t, "aabbccddeeff", got)

	_, err = DecodeForwardingIdentifier("1.3.6.1.2.1.17.4.3.1.1.170.187.204.221.238.255", fdbPort)
	assert.ErrorIs(t, err, ErrMalformedIdentifier)

	_, err = DecodeForwardingIdentifier(fdbPort, fdbPort)
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
}

func TestDecodeOctets_Deterministic(t *testing.T) {
	for i := 0; i < 256; i += 17 {
		suffix, err := EncodeOctets(hexOf(byte(i)))
		require.NoError(t, err)

		first, err := DecodeOctets(suffix)
		require.NoError(t, err)
		second, err := DecodeOctets(suffix)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestEncodeOctets_RoundTrip(t *testing.T) {
	for _, mac := range []string{"aabbccddeeff", "000000000000", "1b960ac80512", "ffffffffffff"} {
		suffix, err := EncodeOctets(mac)
		require.NoError(t, err)

		back, err := DecodeOctets(suffix)
		require.NoError(t, err)
		assert.Equal(t, mac, back)
	}

	suffix, err := EncodeOctets("1b960ac80512")
	require.NoError(t, err)
	assert.Equal(t, "27.150.10.200.5.18", suffix)

	_, err = EncodeOctets("1b960ac805")
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestFromBytes(t *testing.T) {
	got, err := FromBytes([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	require.NoError(t, err)
	assert.Equal(t, "aabbccddeeff", got)

	_, err = FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestNormalize(t *testing.T) {
	valid := map[string]string{
		"AA:BB:CC:DD:EE:FF":  "aabbccddeeff",
		"aa-bb-cc-dd-ee-ff":  "aabbccddeeff",
		"aabb.ccdd.eeff":     "aabbccddeeff",
		"AABBCCDDEEFF":       "aabbccddeeff",
		" 00:11:22:33:44:55": "001122334455",
	}
	for in, want := range valid {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "(incomplete)", "aa:bb:cc:dd:ee", "aa:bb:cc:dd:ee:gg", "aabbccddeeff00"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrMalformedAddress, in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", Format("aabbccddeeff"))
	assert.Equal(t, "short", Format("short"))
}

func hexOf(b byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 2*Octets)
	for i := 0; i < Octets; i++ {
		v := b + byte(i)
		out = append(out, digits[v>>4], digits[v&0x0f])
	}
	return string(out)
}
