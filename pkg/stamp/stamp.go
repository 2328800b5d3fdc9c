// Package stamp decodes DNS stamps, the compact binary descriptors used by
// the public resolver lists to describe how to reach a DNS server.
//
// Only DNS-over-HTTPS stamps are decoded past their protocol byte. The wire
// layout is documented in the [DNS Stamps] specification.
//
// [DNS Stamps]: https://dnscrypt.info/stamps-specifications
package stamp

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Scheme is the URI scheme prefixing every stamp.
const Scheme = "sdns://"

var (
	// ErrBase64 is returned when the stamp payload is not valid base64url.
	ErrBase64 = errors.New("stamp: malformed base64 payload")

	// ErrUnsupportedProtocol is returned for any stamp that is not DoH.
	ErrUnsupportedProtocol = errors.New("stamp: unsupported protocol")

	// ErrMissingHostname is returned for a DoH stamp with an empty hostname.
	ErrMissingHostname = errors.New("stamp: missing hostname")

	// ErrTruncated is returned when a field runs past the end of the stamp.
	ErrTruncated = errors.New("stamp: truncated")
)

// DecodeError describes why a single stamp could not be decoded.
type DecodeError struct {
	Name  string   // resolver name from the registry
	Proto Protocol // protocol byte, zero if it could not be read
	Err   error    // one of the Err* sentinels
}

func (e *DecodeError) Error() string {
	msg := e.Err.Error()
	if e.Err == ErrUnsupportedProtocol {
		msg = fmt.Sprintf("%s %s", msg, e.Proto)
	}
	if e.Name == "" {
		return msg
	}
	return e.Name + ": " + msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Entry is a decoded DoH resolver stamp.
type Entry struct {
	Name        string
	Description string

	Proto    Protocol
	Props    Props
	Address  string
	Hashes   [][]byte
	Hostname string
	Path     string
	URL      string
}

// DecodeURI strips the sdns:// scheme from uri and decodes the rest.
func DecodeURI(name, description, uri string) (*Entry, error) {
	return Decode(name, description, strings.TrimPrefix(uri, Scheme))
}

// Decode decodes a base64url stamp (without its scheme) into an Entry.
//
// Missing trailing padding is accepted. Any stamp whose protocol is not DoH
// is rejected with ErrUnsupportedProtocol before the rest of it is read.
func Decode(name, description, text string) (*Entry, error) {
	if n := len(text) % 4; n != 0 {
		text += strings.Repeat("=", 4-n)
	}

	raw, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Name: name, Err: ErrBase64}
	}

	r := &reader{buf: raw}

	proto, err := r.byte()
	if err != nil {
		return nil, &DecodeError{Name: name, Err: err}
	}

	if Protocol(proto) != DoH {
		return nil, &DecodeError{Name: name, Proto: Protocol(proto), Err: ErrUnsupportedProtocol}
	}

	entry, err := decodeDoH(r)
	if err != nil {
		return nil, &DecodeError{Name: name, Proto: Protocol(proto), Err: err}
	}

	entry.Name = name
	entry.Description = description
	return entry, nil
}

// decodeDoH reads the fields following the protocol byte of a DoH stamp.
func decodeDoH(r *reader) (*Entry, error) {
	entry := &Entry{Proto: DoH}

	props, err := r.next(8)
	if err != nil {
		return nil, err
	}
	entry.Props = Props(binary.LittleEndian.Uint64(props))

	addr, err := r.lp()
	if err != nil {
		return nil, err
	}
	entry.Address = string(addr)

	for {
		v, err := r.byte()
		if err != nil {
			return nil, err
		}

		if n := int(v & 0x7f); n > 0 {
			hash, err := r.next(n)
			if err != nil {
				return nil, err
			}
			entry.Hashes = append(entry.Hashes, hash)
		}

		if v&0x80 == 0 {
			break
		}
	}

	host, err := r.lp()
	if err != nil {
		return nil, err
	}
	if len(host) == 0 {
		return nil, ErrMissingHostname
	}
	entry.Hostname = string(host)

	path, err := r.lp()
	if err != nil {
		return nil, err
	}
	entry.Path = string(path)

	entry.URL = "https://" + entry.Hostname + entry.Path
	return entry, nil
}

// reader is a bounds-checked cursor over a decoded stamp.
type reader struct {
	buf []byte
	off int
}

func (r *reader) next(n int) ([]byte, error) {
	if n > len(r.buf)-r.off {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+n])
	r.off += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// lp reads a single length byte followed by that many bytes.
func (r *reader) lp() ([]byte, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	return r.next(int(n))
}
