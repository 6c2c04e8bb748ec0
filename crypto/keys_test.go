package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	require.Equal(t, EscrowPrefix, addr.Prefix())

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Bytes(), decoded.Bytes())

	raw, err := ParseAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Bytes20(), raw)
	require.Equal(t, addr.String(), FromBytes20(raw).String())
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	foreign := NewAddress(AddressPrefix("tb"), make([]byte, AddressLength))
	_, err := DecodeAddress(foreign.String())
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "maker.keystore")
	require.NoError(t, SaveToKeystoreWith(path, key, "secret", LightScrypt))

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
