// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package admission - stateless challenge issuance and proof of work checking
//
// a token is issued to a caller identity and carries its own keyed
// integrity tag, so no server side session state exists and any number
// of gate instances can issue and verify tokens independently
//
// the caller must find a candidate value such that:
//   sha256(token ‖ identity ‖ candidate)
// has the configured number of leading zero hex digits
package admission
