// farebox
// Copyright (c) 2025 The Farebox Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of farebox.
//
// farebox is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// farebox is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with farebox; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package farebox

import (
	"strconv"
	"strings"
	"time"
)

// CSNLength is the only accepted card serial length: a 7-byte UID
// rendered as hex. Anything else is treated as read noise.
const CSNLength = 14

// FareCardType is the type marker a valid fare card reports in the first
// two characters of its decoded payload.
const FareCardType = "KI"

// validityStampLen is the length of the truncated YYMMDDHHMMSS stamp
const validityStampLen = 12

// minStampYear rejects stamps written before the scheme existed; those
// can only come from corrupted reads.
const minStampYear = 22

// CardIdentity is a decoded fare-card presentation: serial, type marker
// and the vendor payload fields at their fixed offsets.
type CardIdentity struct {
	CSN           string
	Type          string
	ValidityStamp string
	OperatorNum   string
	OperatorName  string
}

// CardStatus classifies a decoded card presentation
type CardStatus int

const (
	// CardAccepted is a current fare card with a well-formed stamp
	CardAccepted CardStatus = iota
	// CardInvalid has a malformed validity stamp (telemetry code TI)
	CardInvalid
	// CardWrongType is not a fare card at all (telemetry code TD)
	CardWrongType
	// CardExpired has a well-formed stamp in the past (telemetry code SV)
	CardExpired
)

// StatCode returns the statistics event code for a rejection status
func (s CardStatus) StatCode() string {
	switch s {
	case CardInvalid:
		return "TI"
	case CardWrongType:
		return "TD"
	case CardExpired:
		return "SV"
	default:
		return ""
	}
}

// DecodeCardIdentity splits the vendor payload into its fixed-offset
// fields. Layout: validity stamp [0:12), operator number [12:17),
// operator name [17:41) with *, ., - and _ standing in for spaces.
func DecodeCardIdentity(csn, cardType, payload string) CardIdentity {
	id := CardIdentity{CSN: csn, Type: cardType}
	if len(payload) >= validityStampLen {
		id.ValidityStamp = payload[:validityStampLen]
	} else {
		id.ValidityStamp = payload
	}
	if len(payload) >= 17 {
		id.OperatorNum = payload[12:17]
	}
	if len(payload) >= 18 {
		end := 41
		if len(payload) < end {
			end = len(payload)
		}
		id.OperatorName = cleanOperatorName(payload[17:end])
	}
	return id
}

func cleanOperatorName(name string) string {
	r := strings.NewReplacer("*", " ", ".", " ", "-", " ", "_", " ")
	return strings.TrimSpace(r.Replace(name))
}

// Classify evaluates the identity against now. A malformed stamp is never
// compared as a date; it classifies as CardInvalid outright.
func (c CardIdentity) Classify(now time.Time) CardStatus {
	if c.Type != FareCardType {
		return CardWrongType
	}
	if len(c.ValidityStamp) != validityStampLen {
		return CardInvalid
	}
	year, err := strconv.Atoi(c.ValidityStamp[:2])
	if err != nil || year < minStampYear {
		return CardInvalid
	}
	if ValidityStamp(now) > c.ValidityStamp {
		return CardExpired
	}
	return CardAccepted
}

// ValidityStamp renders t in the truncated YYMMDDHHMMSS format used for
// lexical validity comparison.
func ValidityStamp(t time.Time) string {
	return t.Format("060102150405")
}
