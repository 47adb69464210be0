// Package bip21 parses and renders "bitcoin:" payment URIs (BIP21), used by
// the address-book/explorer surface when rendering peer-shared addresses.
package bip21

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Errors returned by Parse.
var (
	ErrInvalidScheme   = errors.New("bip21: uri must start with \"bitcoin:\"")
	ErrMissingAddress  = errors.New("bip21: missing address")
	ErrInvalidAmount   = errors.New("bip21: invalid amount")
	ErrInvalidParam    = errors.New("bip21: invalid parameter encoding")
)

// URI is a parsed BIP21 payment URI.
type URI struct {
	Address string
	Amount  *float64
	Label   string
	Message string
	// Params carries any keys besides amount/label/message, preserved
	// verbatim so callers can round-trip extension parameters.
	Params map[string]string
}

// Parse decodes a "bitcoin:<address>[?amount=&label=&message=&...]" URI.
// Unknown keys are preserved in Params rather than rejected, since BIP21
// is explicitly extensible. A non-positive amount is rejected.
func Parse(raw string) (*URI, error) {
	const scheme = "bitcoin:"
	if !strings.HasPrefix(raw, scheme) {
		return nil, ErrInvalidScheme
	}
	body := raw[len(scheme):]

	addrPart := body
	var query string
	if idx := strings.IndexByte(body, '?'); idx >= 0 {
		addrPart = body[:idx]
		query = body[idx+1:]
	}
	if addrPart == "" {
		return nil, ErrMissingAddress
	}

	u := &URI{Address: addrPart, Params: make(map[string]string)}
	if query == "" {
		return u, nil
	}

	for _, kv := range strings.Split(query, "&") {
		if kv == "" {
			continue
		}
		key, rawVal, _ := strings.Cut(kv, "=")
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
		}
		switch key {
		case "amount":
			amt, err := strconv.ParseFloat(val, 64)
			if err != nil || amt <= 0 {
				return nil, ErrInvalidAmount
			}
			u.Amount = &amt
		case "label":
			u.Label = val
		case "message":
			u.Message = val
		default:
			u.Params[key] = val
		}
	}
	return u, nil
}

// String renders the URI back into "bitcoin:" form, URL-encoding values.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString("bitcoin:")
	b.WriteString(u.Address)

	var params []string
	if u.Amount != nil {
		params = append(params, "amount="+strconv.FormatFloat(*u.Amount, 'f', -1, 64))
	}
	if u.Label != "" {
		params = append(params, "label="+url.QueryEscape(u.Label))
	}
	if u.Message != "" {
		params = append(params, "message="+url.QueryEscape(u.Message))
	}
	keys := make([]string, 0, len(u.Params))
	for k := range u.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, k+"="+url.QueryEscape(u.Params[k]))
	}

	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}
