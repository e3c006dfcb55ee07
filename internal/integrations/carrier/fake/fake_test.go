package fake

import (
	"context"
	"testing"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Track(t *testing.T) {
	c := New()
	res, err := c.Track(context.Background(), "A1", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.Status)
	require.Equal(t, "fake-A1", res.TrackerID)
	require.NotEmpty(t, res.Events)
	for i := 1; i < len(res.Events); i++ {
		require.False(t, res.Events[i].OccurredAt.After(res.Events[i-1].OccurredAt))
	}

	again, err := c.Track(context.Background(), "A1", "")
	require.NoError(t, err)
	require.Equal(t, res.Events, again.Events)
}

func TestFakeClient_Results(t *testing.T) {
	c := New()
	res, err := c.Results(context.Background(), "fake-B2")
	require.NoError(t, err)
	require.Equal(t, "B2", res.TrackingNumber)

	_, err = c.Results(context.Background(), "other")
	require.ErrorIs(t, err, carrier.ErrNotFound)

	_, err = c.Track(context.Background(), "", "")
	require.ErrorIs(t, err, carrier.ErrInvalidInput)
}
