// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpwire parses HTTP/1.x request heads and serializes the
// fixed-shape responses the file server writes.
package httpwire

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

var (
	ErrEmptyRequest         = errors.New("httpwire: empty request")
	ErrMalformedRequestLine = errors.New("httpwire: malformed request line")
	ErrUnsupportedVersion   = errors.New("httpwire: unsupported http version")
	ErrMalformedHeader      = errors.New("httpwire: malformed header")
	ErrInvalidPath          = errors.New("httpwire: invalid request path")
	ErrInvalidContentLength = errors.New("httpwire: invalid content length")
)

// MethodGet is the only method the file server answers with content.
const MethodGet = "GET"

// ParseError describes why a request head could not be parsed.
type ParseError struct {
	Line  string
	Cause error
}

// Error implements the [error] interface.
func (e ParseError) Error() string {
	return fmt.Sprintf("failed to parse %q: %s", e.Line, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ParseError) Unwrap() error {
	return e.Cause
}

// Request is the parsed head of an HTTP request.
type Request struct {
	Method  string
	Path    string
	Version string

	// Header keys are lower cased. A repeated header keeps its last value.
	Header map[string]string
}

// KeepAlive reports whether the client is willing to reuse the connection.
// HTTP/1.1 defaults to persistent connections while HTTP/1.0 has to opt in.
func (r Request) KeepAlive() bool {
	conn := strings.ToLower(r.Header["connection"])
	switch {
	case strings.Contains(conn, "close"):
		return false
	case r.Version == "HTTP/1.0":
		return strings.Contains(conn, "keep-alive")
	default:
		return true
	}
}

// ContentLength returns the declared body length, or 0 if none was sent.
func (r Request) ContentLength() (int64, error) {
	v, ok := r.Header["content-length"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidContentLength
	}
	return n, nil
}

// headTerminators are the blank line endings accepted after the last
// header line. Clients mixing CRLF and bare LF produce the last two.
var headTerminators = [][]byte{
	[]byte("\r\n\r\n"),
	[]byte("\n\n"),
	[]byte("\n\r\n"),
	[]byte("\r\n\n"),
}

// HeadLength returns the length of the request head in b including the
// blank line which terminates it, or -1 if b holds no complete head yet.
func HeadLength(b []byte) int {
	n := -1
	for _, term := range headTerminators {
		i := bytes.Index(b, term)
		if i < 0 {
			continue
		}
		if end := i + len(term); n < 0 || end < n {
			n = end
		}
	}
	return n
}

// ParseRequest parses a request head. The request line and header lines
// may be separated by CRLF or a bare LF. Anything after the blank line
// which ends the head is ignored.
func ParseRequest(raw []byte) (Request, error) {
	if n := HeadLength(raw); n >= 0 {
		raw = raw[:n]
	}
	text := strings.TrimLeft(string(raw), "\r\n")
	if strings.TrimSpace(text) == "" {
		return Request{}, ErrEmptyRequest
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	req, err := parseRequestLine(lines[0])
	if err != nil {
		return Request{}, ParseError{Line: lines[0], Cause: err}
	}

	req.Header = make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !isToken(name) {
			return Request{}, ParseError{Line: line, Cause: ErrMalformedHeader}
		}
		req.Header[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	return req, nil
}

func parseRequestLine(line string) (Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return Request{}, ErrMalformedRequestLine
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !isToken(method) {
		return Request{}, ErrMalformedRequestLine
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		if strings.HasPrefix(version, "HTTP/") {
			return Request{}, ErrUnsupportedVersion
		}
		return Request{}, ErrMalformedRequestLine
	}

	p, err := cleanTarget(target)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method:  method,
		Path:    p,
		Version: version,
	}, nil
}

// cleanTarget decodes the origin-form request target and rewrites it to a
// rooted, cleaned path. Dot-dot segments can climb at most to "/".
func cleanTarget(target string) (string, error) {
	if !strings.HasPrefix(target, "/") {
		return "", ErrInvalidPath
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}

	p, err := url.PathUnescape(target)
	if err != nil {
		return "", ErrInvalidPath
	}
	if strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}

	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned, nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
