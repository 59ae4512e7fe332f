// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/relabs-tech/look_at_pose/internal/logging"
)

// CodeInternal is the reply code for errors that match no registered code.
const CodeInternal = "internal"

// RequestTopic is the topic a service listens on for requests.
func RequestTopic(service string) string {
	return service + "/request"
}

// ReplyTopic is the topic a client with the given id receives replies on.
func ReplyTopic(service, clientID string) string {
	return service + "/reply/" + clientID
}

type request struct {
	ID      string `json:"id" cbor:"id"`
	ReplyTo string `json:"reply_to" cbor:"reply_to"`
	Body    []byte `json:"body" cbor:"body"`
}

type reply struct {
	ID    string `json:"id" cbor:"id"`
	Code  string `json:"code,omitempty" cbor:"code,omitempty"`
	Error string `json:"error,omitempty" cbor:"error,omitempty"`
	Body  []byte `json:"body,omitempty" cbor:"body,omitempty"`
}

// ErrorCodes maps reply codes to the sentinel errors they stand for, so
// that errors.Is keeps working on the calling side.
type ErrorCodes map[string]error

// Code returns the code registered for err, or CodeInternal.
func (c ErrorCodes) Code(err error) string {
	for code, sentinel := range c {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// RemoteError is an error reported by the serving side of a call.
type RemoteError struct {
	Code    string
	Message string

	sentinel error
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel registered for the code, if any.
func (e *RemoteError) Unwrap() error {
	return e.sentinel
}

func (c ErrorCodes) remote(code, msg string) error {
	return &RemoteError{Code: code, Message: msg, sentinel: c[code]}
}

// Client issues request/response calls to one service.
type Client struct {
	bus     Bus
	codec   Codec
	service string
	replyTo string
	timeout time.Duration
	codes   ErrorCodes
	logger  logging.Logger

	mu      sync.Mutex
	pending map[string]chan reply
}

// NewClient subscribes to a private reply topic for service. Calls whose
// context has no deadline are bounded by timeout.
func NewClient(bus Bus, codec Codec, service string, timeout time.Duration, codes ErrorCodes, logger logging.Logger) (*Client, error) {
	c := &Client{
		bus:     bus,
		codec:   codec,
		service: service,
		replyTo: ReplyTopic(service, uuid.NewString()),
		timeout: timeout,
		codes:   codes,
		logger:  logger,
		pending: map[string]chan reply{},
	}
	if err := bus.Subscribe(c.replyTo, c.onReply); err != nil {
		return nil, err
	}
	logger.Debugf("rpc: client for %s listening on %s", service, c.replyTo)
	return c, nil
}

// Call sends req and decodes the answer into resp.
func (c *Client) Call(ctx context.Context, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := c.codec.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", c.service)
	}
	id := uuid.NewString()
	payload, err := c.codec.Marshal(request{ID: id, ReplyTo: c.replyTo, Body: body})
	if err != nil {
		return errors.Wrapf(err, "encode %s request envelope", c.service)
	}

	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.bus.Publish(ctx, RequestTopic(c.service), payload); err != nil {
		return errors.Wrapf(err, "call %s", c.service)
	}

	select {
	case <-ctx.Done():
		return errors.Wrapf(ErrTimeout, "call %s: %v", c.service, ctx.Err())
	case r := <-ch:
		if r.Code != "" {
			return c.codes.remote(r.Code, r.Error)
		}
		if err := c.codec.Unmarshal(r.Body, resp); err != nil {
			return errors.Wrapf(ErrTransport, "decode %s response: %v", c.service, err)
		}
		return nil
	}
}

// Close stops listening for replies.
func (c *Client) Close() error {
	return c.bus.Unsubscribe(c.replyTo)
}

func (c *Client) onReply(_ string, payload []byte) {
	var r reply
	if err := c.codec.Unmarshal(payload, &r); err != nil {
		c.logger.Warnf("rpc: dropping undecodable reply on %s: %v", c.replyTo, err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[r.ID]
	delete(c.pending, r.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debugf("rpc: reply %s arrived after its call gave up", r.ID)
		return
	}
	ch <- r
}

// Handler answers one request. decode fills v from the request body.
type Handler func(ctx context.Context, decode func(v any) error) (any, error)

// Server answers requests for one service.
type Server struct {
	bus          Bus
	codec        Codec
	service      string
	codes        ErrorCodes
	handle       Handler
	replyTimeout time.Duration
	logger       logging.Logger
}

// Serve subscribes handle to the request topic of service.
func Serve(bus Bus, codec Codec, service string, codes ErrorCodes, handle Handler, logger logging.Logger) (*Server, error) {
	s := &Server{
		bus:          bus,
		codec:        codec,
		service:      service,
		codes:        codes,
		handle:       handle,
		replyTimeout: 5 * time.Second,
		logger:       logger,
	}
	if err := bus.Subscribe(RequestTopic(service), s.onRequest); err != nil {
		return nil, err
	}
	logger.Infof("rpc: serving %s on %s", service, RequestTopic(service))
	return s, nil
}

// Close stops serving.
func (s *Server) Close() error {
	return s.bus.Unsubscribe(RequestTopic(s.service))
}

func (s *Server) onRequest(_ string, payload []byte) {
	var req request
	if err := s.codec.Unmarshal(payload, &req); err != nil {
		s.logger.Warnf("rpc: %s: dropping undecodable request: %v", s.service, err)
		return
	}
	if req.ReplyTo == "" {
		s.logger.Warnf("rpc: %s: dropping request %s without reply topic", s.service, req.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.replyTimeout)
	defer cancel()

	rep := reply{ID: req.ID}
	result, err := s.handle(ctx, func(v any) error {
		return s.codec.Unmarshal(req.Body, v)
	})
	if err == nil {
		rep.Body, err = s.codec.Marshal(result)
	}
	if err != nil {
		rep.Code = s.codes.Code(err)
		rep.Error = err.Error()
		s.logger.Infof("rpc: %s: request %s failed (%s): %v", s.service, req.ID, rep.Code, err)
	}

	out, err := s.codec.Marshal(rep)
	if err != nil {
		s.logger.Errorf("rpc: %s: encode reply %s: %v", s.service, req.ID, err)
		return
	}
	if err := s.bus.Publish(ctx, req.ReplyTo, out); err != nil {
		s.logger.Errorf("rpc: %s: send reply %s: %v", s.service, req.ID, err)
	}
}
