// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/admission"
	"github.com/dropgate/dropgated/claimrecord"
	"github.com/dropgate/dropgated/counter"
	"github.com/dropgate/dropgated/fault"
	"github.com/dropgate/dropgated/gate"
)

// rate limits in requests per second
const (
	rateLimitChallenge = 50
	rateBurstChallenge = 100
	rateLimitAllocate  = 20
	rateBurstAllocate  = 40
)

// active connection count
var connectionCount counter.Counter

// the argument passed to the handlers
type httpHandler struct {
	log            *logger.L
	admission      *admission.Admission
	gate           *gate.Gate
	paymentAddress string
	version        string
	start          time.Time

	challengeLimiter *rate.Limiter
	allocateLimiter  *rate.Limiter
}

// NewHandler - build the http mux for the admission API
func NewHandler(log *logger.L, adm *admission.Admission, g *gate.Gate, paymentAddress string, version string) http.Handler {
	handler := &httpHandler{
		log:              log,
		admission:        adm,
		gate:             g,
		paymentAddress:   paymentAddress,
		version:          version,
		start:            time.Now(),
		challengeLimiter: rate.NewLimiter(rateLimitChallenge, rateBurstChallenge),
		allocateLimiter:  rate.NewLimiter(rateLimitAllocate, rateBurstAllocate),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", handler.challenge)
	mux.HandleFunc("/allocate", handler.allocate)
	mux.HandleFunc("/details", handler.details)
	mux.HandleFunc("/", handler.root)
	return mux
}

// this matches anything not matched and returns error
func (s *httpHandler) root(w http.ResponseWriter, r *http.Request) {
	sendNotFound(w)
}

// GET /challenge?identity=<id>
func (s *httpHandler) challenge(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method {
		sendMethodNotAllowed(w)
		return
	}

	connectionCount.Increment()
	defer connectionCount.Decrement()

	if err := limit(s.challengeLimiter); nil != err {
		sendError(w, err)
		return
	}

	identity := r.URL.Query().Get("identity")
	token, err := s.admission.Issue(identity)
	if nil != err {
		sendError(w, err)
		return
	}

	type theReply struct {
		Token      string `json:"token"`
		Difficulty int    `json:"difficulty"`
		ExpiresIn  int    `json:"expiresIn"`
	}
	sendReply(w, theReply{
		Token:      token.String(),
		Difficulty: s.admission.Difficulty(),
		ExpiresIn:  int(s.admission.Lifetime() / time.Second),
	})
}

// POST /allocate {identity, token, candidateValue, txRef?}
func (s *httpHandler) allocate(w http.ResponseWriter, r *http.Request) {
	if http.MethodPost != r.Method {
		sendMethodNotAllowed(w)
		return
	}

	connectionCount.Increment()
	defer connectionCount.Decrement()

	if err := limit(s.allocateLimiter); nil != err {
		sendError(w, err)
		return
	}

	type theArguments struct {
		Identity       string `json:"identity"`
		Token          string `json:"token"`
		CandidateValue string `json:"candidateValue"`
		TxRef          string `json:"txRef"`
	}
	var arguments theArguments
	if err := json.NewDecoder(r.Body).Decode(&arguments); nil != err {
		sendBadRequest(w)
		return
	}

	claim, item, err := s.gate.Allocate(arguments.Identity, arguments.Token, arguments.CandidateValue, arguments.TxRef)
	if nil != err {
		sendError(w, err)
		return
	}

	record := claimrecord.Assemble(claim, item, s.paymentAddress)

	type theReply struct {
		UnsignedRecord *claimrecord.UnsignedRecord `json:"unsignedRecord"`
		Index          uint64                      `json:"index"`
		Stats          gate.Stats                  `json:"collectionStats"`
	}
	sendReply(w, theReply{
		UnsignedRecord: record,
		Index:          claim.Index,
		Stats:          s.gate.Statistics(),
	})
}

// GET /details
func (s *httpHandler) details(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method {
		sendMethodNotAllowed(w)
		return
	}

	connectionCount.Increment()
	defer connectionCount.Decrement()

	type theReply struct {
		Stats       gate.Stats `json:"collectionStats"`
		Difficulty  int        `json:"difficulty"`
		Connections uint64     `json:"connections"`
		Version     string     `json:"version"`
		Uptime      string     `json:"uptime"`
	}
	sendReply(w, theReply{
		Stats:       s.gate.Statistics(),
		Difficulty:  s.admission.Difficulty(),
		Connections: connectionCount.Uint64(),
		Version:     s.version,
		Uptime:      time.Since(s.start).String(),
	})
}

// error body with a stable code for every fault instance
type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// map a fault instance to http status and stable code
func errorCode(err error) (int, string) {
	switch err {
	case fault.ErrInvalidIdentity:
		return http.StatusBadRequest, "InvalidIdentity"
	case fault.ErrTokenExpired:
		return http.StatusUnauthorized, "TokenExpired"
	case fault.ErrTokenForged, fault.ErrNotAToken:
		return http.StatusUnauthorized, "TokenForged"
	case fault.ErrPoWInvalid:
		return http.StatusForbidden, "PoWInvalid"
	case fault.ErrQuotaExceeded:
		return http.StatusTooManyRequests, "QuotaExceeded"
	case fault.ErrReplayDetected:
		return http.StatusConflict, "ReplayDetected"
	case fault.ErrSoldOut:
		return http.StatusGone, "SoldOut"
	case fault.ErrRateLimiting:
		return http.StatusTooManyRequests, "RateLimiting"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

func sendError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorReply{
		Code:    code,
		Message: err.Error(),
	})
}

func sendReply(w http.ResponseWriter, reply interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(reply)
}

func sendNotFound(w http.ResponseWriter) {
	http.Error(w, "404 page not found", http.StatusNotFound)
}

func sendMethodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
}

func sendBadRequest(w http.ResponseWriter) {
	http.Error(w, "400 bad request", http.StatusBadRequest)
}
