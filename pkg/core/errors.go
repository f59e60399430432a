package core

import (
	"errors"
	"strings"
)

// ErrorChain returns the message of err followed by the messages of its
// causes. A layer whose message ends with its cause's message is trimmed to
// the part before it, and a layer that only repeats its cause is dropped, so
// each fact appears once.
func ErrorChain(err error) []string {
	var out []string
	for err != nil {
		msg := err.Error()
		cause := errors.Unwrap(err)
		if cause != nil {
			if inner := cause.Error(); msg == inner {
				msg = ""
			} else {
				msg = strings.TrimSuffix(msg, ": "+inner)
			}
		}
		if msg != "" {
			out = append(out, msg)
		}
		err = cause
	}
	return out
}
