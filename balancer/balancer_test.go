package balancer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ice-blockchain/go-dbrouter/balancer"
)

func TestCheckIfRequiresWrite(t *testing.T) {
	tests := []struct {
		expr     string
		def      bool
		stripped string
		write    bool
	}{
		{"SELECT * FROM users", true, "SELECT * FROM users", false},
		{"  \n\tselect 1", true, "  \n\tselect 1", false},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true, "WITH t AS (SELECT 1) SELECT * FROM t", false},
		{"SHOW TABLES", true, "SHOW TABLES", false},
		{"INSERT INTO users VALUES (1)", false, "INSERT INTO users VALUES (1)", true},
		{"update users set a = 1", false, "update users set a = 1", true},
		{"DELETE FROM users", false, "DELETE FROM users", true},
		{"REPLACE INTO users VALUES (1)", false, "REPLACE INTO users VALUES (1)", true},
		{"SELECT * FROM users WHERE id = 1 FOR UPDATE", false,
			"SELECT * FROM users WHERE id = 1 FOR UPDATE", true},
		{"{{writable}} SELECT GET_LOCK('a', 1)", false, "SELECT GET_LOCK('a', 1)", true},
		{"{{non-writable}}CALL report()", true, "CALL report()", false},
		{"CALL report()", false, "CALL report()", true},
		{"settings_lookup()", false, "settings_lookup()", false},
		{"settings_lookup()", true, "settings_lookup()", true},
		{"", true, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			stripped, write := balancer.CheckIfRequiresWrite(tc.expr, tc.def)
			assert.Equal(t, tc.stripped, stripped)
			assert.Equal(t, tc.write, write)
		})
	}
}

func TestHint(t *testing.T) {
	assert.Equal(t, "{{writable}}", balancer.Hint(balancer.Writable))
	assert.Equal(t, "{{non-writable}}", balancer.Hint(balancer.NonWritable))
}
