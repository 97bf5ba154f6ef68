// Copyright (c) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pkg

import (
	"bytes"
	"encoding/gob"
)

// GobEnc should not panic with rational input, otherwise may panic.
func GobEnc(data any) []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(data)
	if err != nil {
		panic(err)
	}

	return buf.Bytes()
}

// GobDec should not panic with GobEnc output, otherwise may panic.
func GobDec(b []byte, out any) {
	dec := gob.NewDecoder(bytes.NewReader(b))
	err := dec.Decode(out)
	if err != nil {
		panic(err)
	}
}
