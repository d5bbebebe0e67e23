package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBoundary is the multipart boundary used when none is configured
const DefaultBoundary = "123456789000000000000987654321"

const (
	partType   = "Content-Type: image/jpeg\r\n"
	partLength = "Content-Length: "
	crlf       = "\r\n"
)

// ContentType returns the response Content-Type for a stream with boundary
func ContentType(boundary string) string {
	return "multipart/x-mixed-replace;boundary=" + boundary
}

// ValidateBoundary checks that a boundary can be placed on a header line
func ValidateBoundary(boundary string) error {
	if boundary == "" {
		return fmt.Errorf("boundary must not be empty")
	}
	if len(boundary) > 70 {
		return fmt.Errorf("boundary longer than 70 characters")
	}
	if strings.ContainsAny(boundary, "\r\n") {
		return fmt.Errorf("boundary must not contain CR or LF")
	}
	return nil
}

// HeaderLen is the exact size of the envelope header for a payload of n bytes
func HeaderLen(boundary string, n int) int {
	return len(crlf) + 2 + len(boundary) + len(crlf) +
		len(partType) +
		len(partLength) + decimalLen(n) + len(crlf) + len(crlf)
}

// AppendHeader appends the envelope header for a payload of n bytes:
//
//	\r\n--<boundary>\r\nContent-Type: image/jpeg\r\nContent-Length: <n>\r\n\r\n
func AppendHeader(dst []byte, boundary string, n int) []byte {
	dst = append(dst, crlf...)
	dst = append(dst, "--"...)
	dst = append(dst, boundary...)
	dst = append(dst, crlf...)
	dst = append(dst, partType...)
	dst = append(dst, partLength...)
	dst = strconv.AppendInt(dst, int64(n), 10)
	dst = append(dst, crlf...)
	dst = append(dst, crlf...)
	return dst
}

func decimalLen(n int) int {
	if n <= 0 {
		return 1
	}
	l := 0
	for n > 0 {
		l++
		n /= 10
	}
	return l
}
