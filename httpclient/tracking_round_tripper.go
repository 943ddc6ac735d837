/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"io"
	"net/http"
	"sync"

	"github.com/acronis/watchtower/inflight"
)

// TrackingRoundTripper accounts every outgoing request as an in-flight operation.
// The operation ends when the response body is closed or fully read, or when the round trip fails.
type TrackingRoundTripper struct {
	Delegate http.RoundTripper
	Tracker  *inflight.Tracker
}

// NewTrackingRoundTripper creates a new TrackingRoundTripper.
func NewTrackingRoundTripper(delegate http.RoundTripper, tracker *inflight.Tracker) *TrackingRoundTripper {
	return &TrackingRoundTripper{Delegate: delegate, Tracker: tracker}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *TrackingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	rt.Tracker.Begin()
	resp, err := rt.Delegate.RoundTrip(r)
	if err != nil || resp == nil || resp.Body == nil {
		rt.Tracker.End()
		return resp, err
	}
	resp.Body = &trackedBody{ReadCloser: resp.Body, end: rt.Tracker.End}
	return resp, nil
}

type trackedBody struct {
	io.ReadCloser
	end     func()
	endOnce sync.Once
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.endOnce.Do(b.end)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.endOnce.Do(b.end)
	return err
}
