// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/dropgate/dropgated/fault"
)

// default bound on any single ledger call
const defaultRequestTimeout = 30 * time.Second

// ClientConfiguration - connection parameters for the ledger node
type ClientConfiguration struct {
	URL      string `gluamapper:"url" json:"url"`
	Username string `gluamapper:"username" json:"username"`
	Password string `gluamapper:"password" json:"password"`
	Timeout  int    `gluamapper:"timeout" json:"timeout"` // seconds, 0 = default
}

// Client - HTTP JSON-RPC 2.0 ledger adapter
type Client struct {
	log      *logger.L
	client   *http.Client
	url      string
	username string
	password string
	id       uint64
}

// NewClient - create a ledger client
func NewClient(configuration ClientConfiguration) (*Client, error) {
	if "" == configuration.URL {
		return nil, fault.ErrRequiredLedgerURL
	}

	timeout := defaultRequestTimeout
	if configuration.Timeout > 0 {
		timeout = time.Duration(configuration.Timeout) * time.Second
	}

	return &Client{
		log: logger.New("ledger"),
		client: &http.Client{
			Timeout: timeout,
		},
		url:      configuration.URL,
		username: configuration.Username,
		password: configuration.Password,
	}, nil
}

// PublishBatch - append entries at their indices
func (c *Client) PublishBatch(batch Batch) error {
	var reply struct {
		Accepted uint64 `json:"accepted"`
	}
	if err := c.call("ledger.publish", batch, &reply); nil != err {
		return err
	}
	c.log.Debugf("published batch at: %d  entries: %d  accepted: %d",
		batch.StartIndex, len(batch.Entries), reply.Accepted)
	return nil
}

// LoadedCount - the ledger's reported populated index count
func (c *Client) LoadedCount() (uint64, error) {
	var reply struct {
		Count uint64 `json:"count"`
	}
	if err := c.call("ledger.count", nil, &reply); nil != err {
		return 0, err
	}
	return reply.Count, nil
}

// PopulatedIndices - all populated indices, for gap detection
func (c *Client) PopulatedIndices() ([]uint64, error) {
	var reply struct {
		Indices []uint64 `json:"indices"`
	}
	if err := c.call("ledger.indices", nil, &reply); nil != err {
		return nil, err
	}
	return reply.Indices, nil
}

// JSON-RPC request and response framing
type rpcRequest struct {
	Id     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Id     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// perform one JSON-RPC call
//
// every failure mode maps to the retryable ErrLedgerWriteFailure: the
// loader decides how often to retry, not the transport
func (c *Client) call(method string, params interface{}, reply interface{}) error {
	log := c.log

	request := rpcRequest{
		Id:     atomic.AddUint64(&c.id, 1),
		Method: method,
		Params: params,
	}

	body, err := json.Marshal(request)
	if nil != err {
		return err
	}

	httpRequest, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if nil != err {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if "" != c.username {
		httpRequest.SetBasicAuth(c.username, c.password)
	}

	httpResponse, err := c.client.Do(httpRequest)
	if nil != err {
		log.Warnf("%s transport error: %s", method, err)
		return fault.ErrLedgerWriteFailure
	}
	defer func() {
		io.Copy(ioutil.Discard, httpResponse.Body)
		httpResponse.Body.Close()
	}()

	if http.StatusOK != httpResponse.StatusCode {
		log.Warnf("%s http status: %d", method, httpResponse.StatusCode)
		return fault.ErrLedgerWriteFailure
	}

	var response rpcResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&response); nil != err {
		log.Warnf("%s decode error: %s", method, err)
		return fault.ErrLedgerWriteFailure
	}

	if nil != response.Error {
		log.Warnf("%s rpc error: %d %s", method, response.Error.Code, response.Error.Message)
		return fault.ErrLedgerWriteFailure
	}

	if nil != reply && nil != response.Result {
		if err := json.Unmarshal(response.Result, reply); nil != err {
			log.Warnf("%s result unmarshal error: %s", method, err)
			return fault.ErrLedgerWriteFailure
		}
	}
	return nil
}
