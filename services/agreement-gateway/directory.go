package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ka1ii/developer-challenge/crypto"
	gwconfig "github.com/ka1ii/developer-challenge/gateway/config"
	"github.com/ka1ii/developer-challenge/gateway/middleware"
)

var (
	errUnknownParty = errors.New("unknown username or address")
	errVaultParty   = errors.New("the escrow vault cannot be a counterparty")
)

// Directory maps marketplace usernames to ledger accounts. Addresses are
// held in their canonical bech32 form.
type Directory struct {
	byName    map[string]middleware.Identity
	byAccount map[[20]byte]string
}

func NewDirectory(users []gwconfig.UserConfig) (*Directory, error) {
	dir := &Directory{
		byName:    make(map[string]middleware.Identity, len(users)),
		byAccount: make(map[[20]byte]string, len(users)),
	}
	for _, user := range users {
		name := strings.TrimSpace(user.Username)
		raw, err := crypto.ParseAccount(user.Address)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		if _, dup := dir.byName[name]; dup {
			return nil, fmt.Errorf("duplicate username %q", name)
		}
		dir.byName[name] = middleware.Identity{Username: name, Address: crypto.AddressFromBytes(raw).String()}
		if _, taken := dir.byAccount[raw]; !taken {
			dir.byAccount[raw] = name
		}
	}
	return dir, nil
}

func (d *Directory) Lookup(username string) (middleware.Identity, bool) {
	identity, ok := d.byName[strings.TrimSpace(username)]
	return identity, ok
}

// UsernameOf returns the username registered for address, or "".
func (d *Directory) UsernameOf(address string) string {
	raw, err := crypto.ParseAccount(address)
	if err != nil {
		return ""
	}
	return d.byAccount[raw]
}

// ResolveParty accepts a username or an account address. Addresses without
// a registered user resolve to an identity with an empty username.
func (d *Directory) ResolveParty(value string) (middleware.Identity, error) {
	trimmed := strings.TrimSpace(value)
	if identity, ok := d.Lookup(trimmed); ok {
		return identity, nil
	}
	raw, err := crypto.ParseAccount(trimmed)
	if err != nil {
		return middleware.Identity{}, errUnknownParty
	}
	return middleware.Identity{Username: d.byAccount[raw], Address: crypto.AddressFromBytes(raw).String()}, nil
}
