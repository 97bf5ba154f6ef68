// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "github.com/saySnake/swarmDB/pkg"

// rsaCrypto adapts pkg's RSA+SHA3-512 function set to CryptoProvider, for
// deployments that already provision PEM-encoded RSA key material (e.g.
// from an existing PKI) instead of raw Ed25519 keys. It holds the function
// sets themselves rather than calling the raw package funcs directly, so
// swapping the digest or pubkey scheme is a one-line change in default.go.
type rsaCrypto struct {
	digest *pkg.DigestFuncSet
	pubkey *pkg.PubkeyFuncSet
}

// NewRSACrypto returns the RSA + SHA3-512/SHAKE256 CryptoProvider built from
// pkg's default function sets.
func NewRSACrypto() CryptoProvider {
	return rsaCrypto{
		digest: pkg.NewDigestFuncSetDefault(),
		pubkey: pkg.NewPubkeyFuncSetDefault(),
	}
}

func (c rsaCrypto) Hash(data any) []byte {
	return c.digest.Hash(data)
}

func (c rsaCrypto) Sign(digest []byte, sk []byte) []byte {
	return c.pubkey.PubkeySign(digest, sk)
}

func (c rsaCrypto) Verify(digest []byte, sig []byte, pk []byte) bool {
	return c.pubkey.PubkeyVerify(sig, digest, pk) == nil
}

// rsaSerde adapts pkg's default DBSerdeFuncSet to nodeStorageSerde, the gob
// alternative for deployments already standardized on pkg's serde scheme.
type rsaSerde struct {
	fns *pkg.DBSerdeFuncSet
}

// NewRSASerde returns the nodeStorageSerde paired with NewRSACrypto.
func NewRSASerde() nodeStorageSerde {
	return rsaSerde{fns: pkg.NewDBSerdeFuncSetDefault()}
}

func (s rsaSerde) Ser(obj any) []byte   { return s.fns.DBSer(obj) }
func (s rsaSerde) De(b []byte, obj any) { s.fns.DBDe(b, obj) }
