// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpwire

import (
	"bytes"
	"io"
	"strconv"
)

// Directive is the value of the Connection response header.
type Directive string

const (
	KeepAlive Directive = "keep-alive"
	Close     Directive = "close"
)

// Response is an HTTP/1.1 response with exactly three headers.
type Response struct {
	StatusCode  int
	StatusText  string
	ContentType string
	Body        []byte
	Connection  Directive
}

// MarshalBinary implements the [encoding.BinaryMarshaler] interface.
// The header order is fixed: Content-Type, Content-Length, Connection.
func (r Response) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(128 + len(r.Body))
	r.appendHead(&buf)
	buf.Write(r.Body)
	return buf.Bytes(), nil
}

// WriteTo implements the [io.WriterTo] interface.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	b, _ := r.MarshalBinary()
	n, err := w.Write(b)
	return int64(n), err
}

func (r Response) appendHead(buf *bytes.Buffer) {
	conn := r.Connection
	if conn == "" {
		conn = Close
	}

	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(r.StatusText)
	buf.WriteString("\r\nContent-Type: ")
	buf.WriteString(r.ContentType)
	buf.WriteString("\r\nContent-Length: ")
	buf.WriteString(strconv.Itoa(len(r.Body)))
	buf.WriteString("\r\nConnection: ")
	buf.WriteString(string(conn))
	buf.WriteString("\r\n\r\n")
}

var (
	badRequestBody       = []byte("<html><body><h1>400 Bad Request</h1></body></html>")
	notFoundBody         = []byte("<html><body><h1>404 Not Found</h1><p>The requested file was not found.</p></body></html>")
	methodNotAllowedBody = []byte("<html><body><h1>405 Method Not Allowed</h1></body></html>")
)

// OK returns a 200 response carrying body.
func OK(contentType string, body []byte, conn Directive) Response {
	return Response{
		StatusCode:  200,
		StatusText:  "OK",
		ContentType: contentType,
		Body:        body,
		Connection:  conn,
	}
}

// BadRequest returns a 400 response. It always closes the connection.
func BadRequest() Response {
	return Response{
		StatusCode:  400,
		StatusText:  "Bad Request",
		ContentType: "text/html",
		Body:        badRequestBody,
		Connection:  Close,
	}
}

// NotFound returns a 404 response.
func NotFound(conn Directive) Response {
	return Response{
		StatusCode:  404,
		StatusText:  "Not Found",
		ContentType: "text/html",
		Body:        notFoundBody,
		Connection:  conn,
	}
}

// MethodNotAllowed returns a 405 response.
func MethodNotAllowed(conn Directive) Response {
	return Response{
		StatusCode:  405,
		StatusText:  "Method Not Allowed",
		ContentType: "text/html",
		Body:        methodNotAllowedBody,
		Connection:  conn,
	}
}
