// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pbft

import "errors"

// Protocol-invariant-violation errors. These are dropped-with-log conditions,
// never fatal.
var (
	ErrTimestampNotNew  = errors.New("request timestamp error: not newer than the latest handled one")
	ErrRequestTooOld    = errors.New("request timestamp error: outside the admission age window")
	ErrInvalidSig       = errors.New("sig error: invalid signature")
	ErrUnmatchedDigest  = errors.New("digest error: the digest of the request is not matched with the digest in the preprepare")
	ErrUnmatchedView    = errors.New("view error: the view is not matched with the current node state")
	ErrUnmatchedPP      = errors.New("preprepare error: accepted pre-prepare for (view, seq) does not match")
	ErrSeqOutOfWindow   = errors.New("sequence error: outside the low/high water mark window")
	ErrViewInvalid      = errors.New("view error: replica view is not currently valid")
	ErrDuplicateRequest = errors.New("request error: duplicate of a recently-seen (client, timestamp, digest)")
	ErrNotPrimary       = errors.New("role error: replica is not primary for its current view")
)

// Client-level error tokens, surfaced verbatim to clients per the wire contract.
var (
	ErrRecordExists       = errors.New("RECORD_EXISTS")
	ErrRecordNotFound     = errors.New("RECORD_NOT_FOUND")
	ErrDatabaseNotFound   = errors.New("DATABASE_NOT_FOUND")
	ErrValueSizeTooLarge  = errors.New("VALUE_SIZE_TOO_LARGE")
	ErrKeySizeTooLarge    = errors.New("KEY_SIZE_TOO_LARGE")
	ErrInvalidCrud        = errors.New("INVALID_CRUD")
	ErrElectionInProgress = errors.New("ELECTION_IN_PROGRESS")
	ErrInvalidArguments   = errors.New("INVALID_ARGUMENTS")
)

// Configuration / membership errors.
var (
	ErrInvalidPeer             = errors.New("peer error: peer has an empty field or collides with an existing peer")
	ErrConfigurationTooSmall   = errors.New("configuration error: proposed configuration would leave fewer than 3f+1 peers")
	ErrNoSuchConfiguration     = errors.New("configuration error: no configuration with that hash or index")
	ErrConfigurationNotEnabled = errors.New("configuration error: configuration is not enabled")
)

// Storage / node-identity errors, kept from the teacher's vocabulary.
var (
	ErrInvalidStorage               = errors.New("invalid storage error: value is invalid and not put by the app")
	ErrUnknownNodeID                = errors.New("id error: can not use the ID to get the required information of the node")
	ErrNoRequestAfterCommittedLocal = errors.New("request error: no request even after committed-local")
)
