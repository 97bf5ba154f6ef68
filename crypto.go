// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import (
	"bytes"
	"crypto/ed25519"
	"encoding/gob"

	"golang.org/x/crypto/sha3"
)

// CryptoProvider hashes wire messages and verifies the signatures over them.
// The default implementation (NewDefaultCrypto) pairs SHAKE256 digests with
// Ed25519 signatures; swap it for pkg.RSAWithSHA3512Sign/Verify-backed
// providers where RSA key material is already provisioned.
type CryptoProvider interface {
	Hash(data any) []byte
	Sign(digest []byte, sk []byte) []byte
	Verify(digest []byte, sig []byte, pk []byte) bool
}

type defaultCrypto struct{}

// NewDefaultCrypto returns the Ed25519 + SHAKE256 CryptoProvider.
func NewDefaultCrypto() CryptoProvider {
	return defaultCrypto{}
}

// Hash gob-encodes data then hashes it with SHAKE256, 64B output, matching
// the discipline pkg.SHA3WithGobHash follows for the generic handler path.
func (defaultCrypto) Hash(data any) []byte {
	return hash(encodeGob(data))
}

func hash(data []byte) []byte {
	h := make([]byte, 64)
	sha3.ShakeSum256(h, data)
	return h
}

func encodeGob(data any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decodeGob(b []byte, out any) {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(out); err != nil {
		panic(err)
	}
}

// Sign signs digest using Ed25519. Panics if sk is not a valid Ed25519 key.
func (defaultCrypto) Sign(digest []byte, sk []byte) []byte {
	return genSig(digest, sk)
}

// Verify checks an Ed25519 signature. Panics if pk is not a valid Ed25519 key.
func (defaultCrypto) Verify(digest []byte, sig []byte, pk []byte) bool {
	return verifySig(digest, sig, pk)
}

// verifySig uses Ed25519. Panics if pk is invalid; same for sk in genSig.
func verifySig(digest []byte, sig []byte, pk []byte) bool {
	pkObj := dePK(pk)
	return ed25519.Verify(pkObj, digest, sig)
}

// genSig See [verifySig].
func genSig(digest []byte, sk []byte) []byte {
	skObj := deSK(sk)
	return ed25519.Sign(skObj, digest)
}

// dePK just does casting, since PublicKey is internally []byte in Golang, and we reuse it as (de)serialization.
func dePK(pk []byte) ed25519.PublicKey {
	return pk
}

// SerPK See [dePK].
func SerPK(pk ed25519.PublicKey) []byte {
	return pk
}

// deSK See [dePK].
func deSK(sk []byte) ed25519.PrivateKey {
	return sk
}

// SerSK See [dePK].
func SerSK(sk ed25519.PrivateKey) []byte {
	return sk
}
