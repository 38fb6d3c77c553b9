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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

func TestDecodeCardIdentity(t *testing.T) {
	t.Parallel()

	payload := "261231235959" + "00042" + "JUAN*PEREZ_LOPEZ........"
	id := DecodeCardIdentity("04A1B2C3D4E5F6", FareCardType, payload)

	assert.Equal(t, "04A1B2C3D4E5F6", id.CSN)
	assert.Equal(t, "261231235959", id.ValidityStamp)
	assert.Equal(t, "00042", id.OperatorNum)
	assert.Equal(t, "JUAN PEREZ LOPEZ", id.OperatorName)
}

func TestDecodeCardIdentityShortPayload(t *testing.T) {
	t.Parallel()

	id := DecodeCardIdentity("04A1B2C3D4E5F6", FareCardType, "2612")
	assert.Equal(t, "2612", id.ValidityStamp)
	assert.Empty(t, id.OperatorNum)
	assert.Empty(t, id.OperatorName)
}

func TestClassifyCard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cardType string
		stamp    string
		want     CardStatus
	}{
		{"current card", FareCardType, "261231235959", CardAccepted},
		{"expires this second", FareCardType, "260829103000", CardAccepted},
		{"expired yesterday", FareCardType, "260828235959", CardExpired},
		{"wrong type", "XX", "261231235959", CardWrongType},
		{"short stamp", FareCardType, "2612", CardInvalid},
		{"stamp from before the scheme", FareCardType, "211231235959", CardInvalid},
		{"garbage stamp", FareCardType, "ZZ1231235959", CardInvalid},
		{"empty stamp", FareCardType, "", CardInvalid},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id := CardIdentity{CSN: "04A1B2C3D4E5F6", Type: tt.cardType, ValidityStamp: tt.stamp}
			assert.Equal(t, tt.want, id.Classify(testNow))
		})
	}
}

func TestClassifyWrongTypeBeatsExpiry(t *testing.T) {
	t.Parallel()

	// A foreign card with a lapsed stamp must report TD, not SV
	id := CardIdentity{Type: "XX", ValidityStamp: "220101000000"}
	assert.Equal(t, CardWrongType, id.Classify(testNow))
}

func TestStatCodes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "TI", CardInvalid.StatCode())
	assert.Equal(t, "TD", CardWrongType.StatCode())
	assert.Equal(t, "SV", CardExpired.StatCode())
	assert.Empty(t, CardAccepted.StatCode())
}

func TestValidityStamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "260829103000", ValidityStamp(testNow))
}
