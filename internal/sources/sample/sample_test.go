package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetangstr/findmycar/internal/models"
	"github.com/thetangstr/findmycar/internal/sources"
)

func TestSameSeedSameCorpus(t *testing.T) {
	a := New(42, 50)
	b := New(42, 50)

	la, _, err := a.Search(context.Background(), "", models.FilterSet{}, 1, 50)
	require.NoError(t, err)
	lb, _, err := b.Search(context.Background(), "", models.FilterSet{}, 1, 50)
	require.NoError(t, err)

	require.Len(t, la, 50)
	for i := range la {
		assert.Equal(t, la[i].Title, lb[i].Title)
		assert.Equal(t, la[i].SourceListingID, lb[i].SourceListingID)
	}
}

func TestFiltersApply(t *testing.T) {
	a := New(42, 200)
	max := 20000.0
	listings, _, err := a.Search(context.Background(), "",
		models.FilterSet{Make: "Honda", PriceMax: &max}, 1, 200)
	require.NoError(t, err)
	require.NotEmpty(t, listings)
	for _, l := range listings {
		assert.Equal(t, "Honda", l.Make)
		require.NotNil(t, l.Price)
		assert.LessOrEqual(t, *l.Price, max)
	}
}

func TestDetailsLookup(t *testing.T) {
	a := New(42, 10)
	l, err := a.GetDetails(context.Background(), "sample-000003")
	require.NoError(t, err)
	assert.Equal(t, Tag, l.Source)

	_, err = a.GetDetails(context.Background(), "sample-999999")
	assert.Equal(t, sources.KindNotFound, sources.KindOf(err))
}

func TestLatencyHonorsDeadline(t *testing.T) {
	a := New(42, 10)
	a.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := a.Search(ctx, "", models.FilterSet{}, 1, 10)
	assert.Equal(t, sources.KindDeadlineExceeded, sources.KindOf(err))
}
