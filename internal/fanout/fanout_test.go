package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/model"
)

type fakeSink struct {
	published []*model.TradeOutcome
	err       error
}

func (f *fakeSink) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, outcome)
	return nil
}

func TestTeePublishesToPrimaryWithNilFanout(t *testing.T) {
	primary := &fakeSink{}
	tee := &Tee{Primary: primary}

	outcome := &model.TradeOutcome{PlanID: "plan-1", Status: model.Landed}
	require.NoError(t, tee.Publish(context.Background(), outcome))

	require.Len(t, primary.published, 1)
	assert.Equal(t, "plan-1", primary.published[0].PlanID)
}

func TestTeePropagatesPrimaryError(t *testing.T) {
	primary := &fakeSink{err: errors.New("primary down")}
	tee := &Tee{Primary: primary}

	err := tee.Publish(context.Background(), &model.TradeOutcome{PlanID: "plan-1"})
	assert.ErrorIs(t, err, primary.err)
}
