// Copyright (c) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pkg

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"golang.org/x/crypto/sha3"
)

// SHA3WithGobHash gob-encodes data then hashes it with SHAKE256, 64B output.
func SHA3WithGobHash(data any) []byte {
	h := make([]byte, 64)
	sha3.ShakeSum256(h, GobEnc(data))
	return h
}

// RSAWithSHA3512Sign signs a digest already reduced to 64B by SHA3WithGobHash,
// the 512-bit width crypto.SHA3_512 expects; the digest is used as given.
func RSAWithSHA3512Sign(digest []byte, privkey []byte) []byte {
	block, _ := pem.Decode(privkey)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		panic(err)
	}

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA3_512, digest)
	if err != nil {
		panic(err)
	}
	return sig
}

func RSAWithSHA3512Verify(sig []byte, digest []byte, pubkey []byte) error {
	block, _ := pem.Decode(pubkey)
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		panic(err)
	}

	return rsa.VerifyPKCS1v15(key.(*rsa.PublicKey), crypto.SHA3_512, digest, sig)
}

// SerRSAPrivkey PEM-encodes an RSA private key for use as PubkeyFuncSet input.
func SerRSAPrivkey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// SerRSAPubkey PEM-encodes an RSA public key for use as PubkeyFuncSet input.
func SerRSAPubkey(key *rsa.PublicKey) []byte {
	b, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: b,
	})
}
