package main

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwconfig "github.com/ka1ii/developer-challenge/gateway/config"
)

func TestDirectoryResolvesUsernamesAndAddresses(t *testing.T) {
	dir, err := NewDirectory([]gwconfig.UserConfig{
		{Username: "alice", Address: "0x" + hex.EncodeToString(aliceAccount[:])},
		{Username: "bob", Address: bech32(bobAccount)},
	})
	require.NoError(t, err)

	alice, ok := dir.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, bech32(aliceAccount), alice.Address, "hex addresses are normalised to bech32")

	_, ok = dir.Lookup("carol")
	assert.False(t, ok)

	party, err := dir.ResolveParty("bob")
	require.NoError(t, err)
	assert.Equal(t, bech32(bobAccount), party.Address)

	party, err = dir.ResolveParty(bech32(aliceAccount))
	require.NoError(t, err)
	assert.Equal(t, "alice", party.Username)

	stranger := [20]byte{0x33}
	party, err = dir.ResolveParty("0x" + hex.EncodeToString(stranger[:]))
	require.NoError(t, err)
	assert.Empty(t, party.Username)
	assert.Equal(t, bech32(stranger), party.Address)

	_, err = dir.ResolveParty("carol")
	assert.ErrorIs(t, err, errUnknownParty)

	assert.Equal(t, "bob", dir.UsernameOf(bech32(bobAccount)))
	assert.Empty(t, dir.UsernameOf("garbage"))
}

func TestDirectoryRejectsBadUsers(t *testing.T) {
	_, err := NewDirectory([]gwconfig.UserConfig{{Username: "alice", Address: "nope"}})
	assert.Error(t, err)

	_, err = NewDirectory([]gwconfig.UserConfig{
		{Username: "alice", Address: bech32(aliceAccount)},
		{Username: "alice", Address: bech32(bobAccount)},
	})
	assert.Error(t, err)
}
