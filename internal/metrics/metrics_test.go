package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cardledger/cardledger/internal/domain"
)

func TestObserveMutationIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(CardMutations.WithLabelValues("debit", OutcomeConflict))
	ObserveMutation("debit", OutcomeConflict)
	after := testutil.ToFloat64(CardMutations.WithLabelValues("debit", OutcomeConflict))
	assert.Equal(t, before+1, after)
}

func TestOutcomeFor(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":          {nil, OutcomeSuccess},
		"race":         {domain.ErrVersionConflict, OutcomeConflict},
		"stale etag":   {fmt.Errorf("block: %w", domain.ErrPreconditionFailed), OutcomeConflict},
		"funds":        {domain.ErrInsufficientFunds, OutcomeRejected},
		"limit":        {domain.ErrCardLimitExceeded, OutcomeRejected},
		"unclassified": {errors.New("connection reset"), OutcomeError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, OutcomeFor(tc.err))
		})
	}
}
