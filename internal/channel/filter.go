package channel

import (
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// compileFilter parses a JMESPath expression used to gate a handler.
func compileFilter(expr string) (*jmespath.JMESPath, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	return jp, nil
}

// matches reports whether the filter selects the boolean true from payload.
// Evaluation errors and non-boolean results do not match.
func matches(jp *jmespath.JMESPath, payload any) bool {
	v, err := jp.Search(payload)
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
