package hostfunc

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// EncodeHead serializes the normalized request head handed to the guest:
// a request line with the absolute target, the header block, and a blank
// line. The Host header is not repeated; the authority already lives in
// the target.
func EncodeHead(method, target string, header http.Header) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, target)
	_ = header.Write(&b)
	b.WriteString("\r\n")
	return b.Bytes()
}

// ParseHeaderBlock parses the guest's serialized response headers: one
// "Name: value" pair per line, CRLF or LF terminated. An empty block is a
// response with no headers.
func ParseHeaderBlock(raw []byte) (http.Header, error) {
	header := make(http.Header)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed header name %q", name)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}
