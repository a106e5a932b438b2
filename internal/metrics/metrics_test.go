package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCardMutationsByLabel(t *testing.T) {
	ok := CardMutations.WithLabelValues("move", Result(nil))
	before := testutil.ToFloat64(ok)
	ok.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ok))
}
