// Package fakes provides in-memory stand-ins for the VIES checker and the notifier.
package fakes

import (
	"context"
	"sync"

	"github.com/m3rciful/vatwatch/internal/vies"
)

// Checker answers validity checks from a table keyed by the full number (e.g. "PL123").
// Unknown numbers are invalid.
type Checker struct {
	mu    sync.Mutex
	valid map[string]bool
	errs  map[string]error
	calls []string
}

// NewChecker returns an empty checker.
func NewChecker() *Checker {
	return &Checker{valid: map[string]bool{}, errs: map[string]error{}}
}

// SetValid marks number as valid or invalid.
func (c *Checker) SetValid(number string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.errs, number)
	c.valid[number] = valid
}

// SetError makes checks of number fail with err.
func (c *Checker) SetError(number string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[number] = err
}

// Init implements vies.Checker.
func (c *Checker) Init(context.Context) error { return nil }

// CheckValidity implements vies.Checker.
func (c *Checker) CheckValidity(_ context.Context, countryCode, vatNumber string) (vies.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := countryCode + vatNumber
	c.calls = append(c.calls, key)
	if err := c.errs[key]; err != nil {
		return vies.Result{}, err
	}
	return vies.Result{CountryCode: countryCode, VatNumber: vatNumber, Valid: c.valid[key]}, nil
}

// Checked returns the numbers checked so far, in order.
func (c *Checker) Checked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Message is one recorded notification.
type Message struct {
	OwnerID int64
	Text    string
}

// Notifier records notifications.
type Notifier struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// Notify implements lifecycle.Notifier.
func (n *Notifier) Notify(_ context.Context, ownerID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, Message{OwnerID: ownerID, Text: text})
	return nil
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}
