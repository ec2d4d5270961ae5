package gateway

import (
	"testing"
	"tether/internal/types"

	"github.com/stretchr/testify/require"
)

func TestClassifyMessageOrder(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   types.ErrorKind
		msg    string
	}{
		{"detail", 403, `{"detail":"nope","message":"other"}`, types.KindValidation, "nope"},
		{"message", 404, `{"message":"missing"}`, types.KindValidation, "missing"},
		{"non field", 400, `{"non_field_errors":["bad combo"],"x":["y"]}`, types.KindValidation, "bad combo"},
		{"first field list", 400, `{"zeta":["first"],"alpha":["second"]}`, types.KindValidation, "first"},
		{"first field string", 400, `{"zeta":"first","alpha":"second"}`, types.KindValidation, "first"},
		{"string body", 502, `"bad gateway"`, types.KindServer, "bad gateway"},
		{"plain body", 503, `unavailable`, types.KindServer, "unavailable"},
		{"empty body", 500, ``, types.KindServer, "Internal Server Error"},
		{"unauthorized", 401, `{"detail":"expired"}`, types.KindUnauthorized, "expired"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := classify(&Response{StatusCode: c.status, Body: []byte(c.body)})
			require.Equal(t, c.kind, e.Kind)
			require.Equal(t, c.msg, e.Message)
			require.Equal(t, c.status, e.StatusCode)
		})
	}
}

func TestClassifyNestedErrors(t *testing.T) {
	e := classify(&Response{StatusCode: 400, Body: []byte(`{"message":"invalid","errors":{"email":["taken"]}}`)})
	require.Equal(t, "invalid", e.Message)
	require.Equal(t, map[string]any{"email": []any{"taken"}}, e.Fields)
}
