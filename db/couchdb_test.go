package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouchDBError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &CouchDBError{
			StatusCode: 404,
			ErrorType:  "not_found",
			Reason:     "missing",
		}
		assert.Equal(t, "CouchDB error (status 404): not_found - missing", err.Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		assert.True(t, (&CouchDBError{StatusCode: 404}).IsNotFound())
		assert.False(t, (&CouchDBError{StatusCode: 409}).IsNotFound())
	})

	t.Run("IsConflict", func(t *testing.T) {
		assert.True(t, (&CouchDBError{StatusCode: 409}).IsConflict())
		assert.False(t, (&CouchDBError{StatusCode: 404}).IsConflict())
	})

	t.Run("IsUnauthorized", func(t *testing.T) {
		assert.True(t, (&CouchDBError{StatusCode: 401}).IsUnauthorized())
		assert.True(t, (&CouchDBError{StatusCode: 403}).IsUnauthorized())
		assert.False(t, (&CouchDBError{StatusCode: 404}).IsUnauthorized())
	})
}

func TestClassifiers(t *testing.T) {
	t.Run("transient statuses", func(t *testing.T) {
		for _, status := range []int{408, 429, 503} {
			assert.True(t, IsTransient(&CouchDBError{StatusCode: status}), "status %d", status)
		}
	})

	t.Run("timeout in message is transient", func(t *testing.T) {
		assert.True(t, IsTransient(errors.New("request Timeout while reading view")))
	})

	t.Run("permanent statuses", func(t *testing.T) {
		for _, status := range []int{400, 401, 403, 404, 500} {
			assert.False(t, IsTransient(&CouchDBError{StatusCode: status, Reason: "denied"}), "status %d", status)
		}
	})

	t.Run("indexing wait retries 404 and 408", func(t *testing.T) {
		assert.True(t, IsIndexingWait(&CouchDBError{StatusCode: 404}))
		assert.True(t, IsIndexingWait(&CouchDBError{StatusCode: 408}))
		assert.False(t, IsIndexingWait(&CouchDBError{StatusCode: 401, Reason: "denied"}))
	})

	t.Run("provisioning retries conflicts", func(t *testing.T) {
		assert.True(t, IsProvisionRetryable(&CouchDBError{StatusCode: 409}))
		assert.True(t, IsProvisionRetryable(&CouchDBError{StatusCode: 503}))
		assert.False(t, IsProvisionRetryable(&CouchDBError{StatusCode: 404, Reason: "gone"}))
	})

	t.Run("wrapped errors keep their status", func(t *testing.T) {
		wrapped := fmt.Errorf("querying: %w", &CouchDBError{StatusCode: 503})
		assert.True(t, IsTransient(wrapped))
	})

	t.Run("nil is never retryable", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
		assert.False(t, IsIndexingWait(nil))
		assert.False(t, IsProvisionRetryable(nil))
	})
}

func TestMangoQueryToParams(t *testing.T) {
	t.Run("defaults to the unbounded limit ceiling", func(t *testing.T) {
		q := MangoQuery{Selector: TypeSelector("release")}
		params := q.toParams()
		assert.Equal(t, MaxFindLimit, params["limit"])
	})

	t.Run("explicit limit wins", func(t *testing.T) {
		q := MangoQuery{Limit: 10}
		assert.Equal(t, 10, q.toParams()["limit"])
	})

	t.Run("fields passed through", func(t *testing.T) {
		q := MangoQuery{Fields: []string{"_id", "name"}}
		assert.Equal(t, []string{"_id", "name"}, q.toParams()["fields"])
	})
}

func TestTypeSelector(t *testing.T) {
	sel := TypeSelector("component")
	assert.Equal(t, map[string]interface{}{
		"type": map[string]interface{}{"$eq": "component"},
	}, sel)
}

// fakeQuerier returns scripted results per call.
type fakeQuerier struct {
	calls   int
	results []*ViewResult
	errs    []error
}

func (q *fakeQuerier) QueryView(designName, viewName string, opts ViewOptions) (*ViewResult, error) {
	i := q.calls
	q.calls++
	var err error
	if i < len(q.errs) {
		err = q.errs[i]
	}
	var res *ViewResult
	if i < len(q.results) {
		res = q.results[i]
	}
	return res, err
}

func TestResultFetcher(t *testing.T) {
	policy := fastPolicy

	t.Run("returns rows on success", func(t *testing.T) {
		q := &fakeQuerier{results: []*ViewResult{{Rows: []ViewRow{{Key: "a", Value: 1.0}}}}}
		f := &ResultFetcher{Querier: q, Policy: policy(3)}
		rows := f.FetchRows("Component", "all")
		require.Len(t, rows, 1)
		assert.Equal(t, "a", rows[0].Key)
	})

	t.Run("retries transient then succeeds", func(t *testing.T) {
		q := &fakeQuerier{
			errs:    []error{&CouchDBError{StatusCode: 503}, nil},
			results: []*ViewResult{nil, {Rows: []ViewRow{{Key: "k"}}}},
		}
		f := &ResultFetcher{Querier: q, Policy: policy(3)}
		rows := f.FetchRows("Component", "all")
		assert.Len(t, rows, 1)
		assert.Equal(t, 2, q.calls)
	})

	t.Run("empty result after exhausted retries", func(t *testing.T) {
		unavailable := &CouchDBError{StatusCode: 503}
		q := &fakeQuerier{errs: []error{unavailable, unavailable, unavailable}}
		f := &ResultFetcher{Querier: q, Policy: policy(3)}
		rows := f.FetchRows("Component", "all")
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
		assert.Equal(t, 3, q.calls)
	})

	t.Run("permanent error short-circuits to empty", func(t *testing.T) {
		q := &fakeQuerier{errs: []error{&CouchDBError{StatusCode: 401, Reason: "denied"}}}
		f := &ResultFetcher{Querier: q, Policy: policy(5)}
		rows := f.FetchRows("Component", "all")
		assert.Empty(t, rows)
		assert.Equal(t, 1, q.calls)
	})
}
