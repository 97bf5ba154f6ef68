// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/gob"
	"time"

	pbft "github.com/saySnake/swarmDB"
)

// gobSerde is the ReplicaConfig.Serde collaborator: gob encoding for the
// small bookkeeping records the core persists (e.g. the stable checkpoint).
type gobSerde struct{}

func (gobSerde) Ser(obj any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(obj); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (gobSerde) De(b []byte, obj any) {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(obj); err != nil {
		panic(err)
	}
}

func newSigningKey() (pk, sk []byte, err error) {
	pkObj, skObj, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pbft.SerPK(pkObj), pbft.SerSK(skObj), nil
}

// staticPKGetter is a NodeUserPKGetter backed by a fixed id -> public-key map.
type staticPKGetter map[string][]byte

func (m staticPKGetter) Get(user string) ([]byte, error) {
	pk, ok := m[user]
	if !ok {
		return nil, pbft.ErrUnknownNodeID
	}
	return pk, nil
}

// systemClock is the NodeClock backed by the wall clock.
type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixNano() }

func cmdContext() context.Context { return context.Background() }
