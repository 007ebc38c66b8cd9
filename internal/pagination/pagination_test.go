package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	req := Normalize(url.Values{}, 50)

	assert.Equal(t, 1, req.Page)
	assert.Equal(t, 10, req.Limit)
	assert.Empty(t, req.Search)
	assert.Nil(t, req.Filters)
}

func TestNormalizeClampsLimit(t *testing.T) {
	req := Normalize(url.Values{"limit": {"10000"}}, 50)
	assert.Equal(t, 50, req.Limit)

	req = Normalize(url.Values{"limit": {"10000"}}, 0)
	assert.Equal(t, MaxLimit, req.Limit)

	req = Normalize(url.Values{"limit": {"99999999999999999999"}}, 50)
	assert.Equal(t, 50, req.Limit)

	req = Normalize(url.Values{"limit": {"-99999999999999999999"}}, 50)
	assert.Equal(t, DefaultLimit, req.Limit)
}

func TestNormalizeInvalidValues(t *testing.T) {
	cases := map[string]url.Values{
		"non numeric": {"page": {"abc"}, "limit": {"x"}},
		"zero":        {"page": {"0"}, "limit": {"0"}},
		"negative":    {"page": {"-3"}, "limit": {"-1"}},
		"float":       {"page": {"1.5"}, "limit": {"2.5"}},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			req := Normalize(values, 50)
			assert.Equal(t, DefaultPage, req.Page)
			assert.Equal(t, DefaultLimit, req.Limit)
		})
	}
}

func TestNormalizeCoercesAndPassesThrough(t *testing.T) {
	values := url.Values{
		"page":       {"3"},
		"limit":      {" 20 "},
		"search":     {"  Tower A "},
		"status":     {"pending", "done"},
		"buildingId": {"b-1"},
	}
	req := Normalize(values, 50)

	assert.Equal(t, 3, req.Page)
	assert.Equal(t, 20, req.Limit)
	assert.Equal(t, "  Tower A ", req.Search)
	assert.Equal(t, map[string]string{"status": "pending", "buildingId": "b-1"}, req.Filters)
	assert.Equal(t, 40, req.Offset())
}

func TestWrapTotalPages(t *testing.T) {
	cases := []struct {
		total, limit, want int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{95, 7, 14},
		{5, 1, 5},
	}
	for _, tc := range cases {
		items := make([]int, 0)
		res := Wrap(items, tc.total, 1, tc.limit)
		assert.Equal(t, tc.want, res.TotalPages, "total=%d limit=%d", tc.total, tc.limit)
	}
}

func TestWrapTotalPagesProperty(t *testing.T) {
	for total := 0; total <= 200; total++ {
		for limit := 1; limit <= 60; limit++ {
			got := TotalPages(total, limit)
			require.GreaterOrEqual(t, got, 0)
			if total == 0 {
				require.Zero(t, got)
				continue
			}
			require.Positive(t, got)
			require.GreaterOrEqual(t, got*limit, total)
			require.Less(t, (got-1)*limit, total)
		}
	}
}

func TestWrapDoesNotTrustTotal(t *testing.T) {
	res := Wrap([]string{"a", "b", "c"}, 1, 1, 10)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.TotalPages)

	res = Wrap([]string{"a", "b", "c"}, -5, 1, 2)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.TotalPages)
}

func TestWrapNilItems(t *testing.T) {
	res := Wrap[int](nil, 0, 0, 0)

	require.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 10, res.Limit)
	assert.Zero(t, res.TotalPages)
}

func TestClampDecodedRequest(t *testing.T) {
	got := Request{Page: 0, Limit: 500, Search: "x"}.Clamp(20)
	assert.Equal(t, Request{Page: 1, Limit: 20, Search: "x"}, got)
	assert.Equal(t, 10, Request{Limit: -1}.Clamp(0).Limit)
	assert.Equal(t, 20, Request{Page: 3, Limit: 10}.Clamp(0).Offset())
}
