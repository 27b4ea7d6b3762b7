package scrub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "email",
			in:   "contact jane.doe+ops@example.co.uk for access",
			want: "contact <EMAIL> for access",
		},
		{
			name: "phone with separators",
			in:   "call (555) 123-4567 or +1 555.987.6543",
			want: "call <PHONE> or <PHONE>",
		},
		{
			name: "ssn",
			in:   "ssn 123-45-6789 on file",
			want: "ssn <SSN> on file",
		},
		{
			name: "card with spaces",
			in:   "paid with 4111 1111 1111 1111 yesterday",
			want: "paid with <CARD> yesterday",
		},
		{
			name: "databricks token",
			in:   "auth dapi1234567890abcdef1234 failed",
			want: "auth <TOKEN> failed",
		},
		{
			name: "key value secret",
			in:   "set password=hunter22 and retry",
			want: "set password=<SECRET> and retry",
		},
		{
			name: "colon separated secret",
			in:   "api_key: sk-abc123xyz",
			want: "api_key=<SECRET>",
		},
		{
			name: "long number becomes id",
			in:   "run 12345678 finished",
			want: "run <ID> finished",
		},
		{
			name: "short numbers survive",
			in:   "retried 3 times over 90 seconds",
			want: "retried 3 times over 90 seconds",
		},
		{
			name: "clean text untouched",
			in:   "model analytics.orders rebuilt in 42s",
			want: "model analytics.orders rebuilt in 42s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestTextSecretSwallowsValueWithDigits(t *testing.T) {
	// The secret rule must run before numeric rules so the value is not
	// partially rewritten first.
	got := Text("token=9999999999")
	assert.Equal(t, "token=<SECRET>", got)
}

func TestSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "string literals blanked",
			in:   "SELECT * FROM t WHERE email = 'joe@example.com'",
			want: "SELECT * FROM t WHERE email = <LITERAL>",
		},
		{
			name: "doubled quote literal",
			in:   "SELECT 'it''s fine' FROM t",
			want: "SELECT <LITERAL> FROM t",
		},
		{
			name: "long numeric literal",
			in:   "SELECT * FROM t WHERE user_id = 48130992218",
			want: "SELECT * FROM t WHERE user_id = <ID>",
		},
		{
			name: "identifiers survive",
			in:   "SELECT order_id, amount FROM sales.orders WHERE amount > 100",
			want: "SELECT order_id, amount FROM sales.orders WHERE amount > 100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SQL(tt.in))
		})
	}
}

func TestFields(t *testing.T) {
	fields := map[string]any{
		"message":  "user bob@corp.io failed login",
		"attempts": 3,
		"model":    "analytics.orders",
	}
	got := Fields(fields)
	assert.Equal(t, "user <EMAIL> failed login", got["message"])
	assert.Equal(t, 3, got["attempts"])
	assert.Equal(t, "analytics.orders", got["model"])
}
