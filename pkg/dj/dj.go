// Package dj provides a client for the DoH JSON API offered by some DNS
// providers, including Google, Cloudflare, and Quad9.
//
// This is different from [RFC8484], which came later,
// and became the generally accepted standard for DoH.
//
// [RFC8484]: https://tools.ietf.org/html/rfc8484
package dj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/miekg/dns"
)

// ContentType is the media type of DoH JSON responses.
const ContentType = "application/dns-json"

// ErrStatus is returned when the server answers with a non-200 HTTP status.
var ErrStatus = errors.New("dj: unexpected HTTP status")

// Request is a DNS query to a DoH server using the JSON API.
type Request struct {
	Name string // domain name (e.g. google.com)
	Type string // record type (e.g. A, AAAA, MX, ANY), omitted when empty
}

// Answer is a single resource record of a Response.
type Answer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// Response is a DNS response from a DoH JSON API server.
type Response struct {
	Status   int  `json:"Status"` // DNS response code
	TC       bool `json:"TC"`     // Truncated
	RD       bool `json:"RD"`     // Recursion Desired
	RA       bool `json:"RA"`     // Recursion Available
	AD       bool `json:"AD"`     // Authenticated Data
	CD       bool `json:"CD"`     // Checking Disabled
	Question []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
	} `json:"Question"`
	Answer []Answer `json:"Answer"`
}

// FirstA returns the data of the first A record in the answer section.
func (r *Response) FirstA() (string, bool) {
	for _, answer := range r.Answer {
		if answer.Type == int(dns.TypeA) {
			return answer.Data, true
		}
	}
	return "", false
}

// Query performs a DNS query using a DoH server.
func Query(ctx context.Context, httpClient *http.Client, server string, req *Request) (*Response, error) {
	// Prepare the HTTP request, including the relevant headers and query params.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return nil, fmt.Errorf("dj: error creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", ContentType)
	httpReq.Header.Set("User-Agent", "doh-verifier")

	q := httpReq.URL.Query()
	q.Add("name", req.Name)
	if req.Type != "" {
		q.Add("type", req.Type)
	}

	httpReq.URL.RawQuery = q.Encode()

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dj: error performing HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %q returned %d (%s)", ErrStatus, server, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	resp := &Response{}

	err = json.NewDecoder(httpResp.Body).Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("dj: error decoding response: %w", err)
	}

	return resp, nil
}
