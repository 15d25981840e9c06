package printer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(&out, &errOut, true), &out, &errOut
}

func TestStatusLines(t *testing.T) {
	p, out, errOut := newTestPrinter()

	p.Step("Connecting to %s\n", "redis://localhost:6379")
	p.Success("Joined as %s\n", "player-1")
	p.Warning("Retention disabled\n")
	p.Info("%d activities\n", 3)

	assert.Equal(t, "→ Connecting to redis://localhost:6379\n✓ Joined as player-1\n⚠️  Retention disabled\n3 activities\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestError(t *testing.T) {
	t.Run("single suggestion", func(t *testing.T) {
		p, out, errOut := newTestPrinter()

		err := p.Error("catalog not found", "No catalog at augur.yml.", []string{"Set AUGUR_CATALOG"})

		assert.EqualError(t, err, "catalog not found")
		assert.Equal(t, "catalog not found\n\nNo catalog at augur.yml.\n\nSet AUGUR_CATALOG\n", errOut.String())
		assert.Empty(t, out.String())
	})

	t.Run("several suggestions are numbered", func(t *testing.T) {
		p, _, errOut := newTestPrinter()

		err := p.Error("connection failed", "", []string{"Start redis", "Use --transport websocket"})

		assert.EqualError(t, err, "connection failed")
		assert.Equal(t, "connection failed\n\n\nEither:\n  1. Start redis\n  2. Use --transport websocket\n", errOut.String())
	})
}

func TestErrorWithContext_SortsDetails(t *testing.T) {
	p, _, errOut := newTestPrinter()

	err := p.ErrorWithContext(
		"invalid catalog",
		"Validation failed.",
		map[string]string{"reason": "activation_policy is required", "activity": "Ability.Dash"},
		nil,
	)

	assert.EqualError(t, err, "invalid catalog")
	assert.Equal(t,
		"invalid catalog\n\nValidation failed.\n\n  activity: Ability.Dash\n  reason: activation_policy is required\n",
		errOut.String())
}

func TestColorEnabled(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &out, false)

	p.Success("done\n")

	assert.Contains(t, out.String(), "\x1b[")
	assert.Contains(t, out.String(), "✓ done")
}
