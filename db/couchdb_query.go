package db

import (
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/retry"
)

// Find executes a Mango query and returns the matching documents scanned
// into T. The result-count ceiling defaults to MaxFindLimit so results are
// never silently truncated.
func Find[T any](c *CouchDBService, query MangoQuery) ([]T, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	rows := c.database.Find(ctx, query.Selector, kivik.Params(query.toParams()))
	defer rows.Close()

	var results []T
	for rows.Next() {
		var doc T
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		results = append(results, doc)
	}

	if err := rows.Err(); err != nil {
		if status := kivik.HTTPStatus(err); status != 0 {
			return nil, &CouchDBError{
				StatusCode: status,
				ErrorType:  "find_failed",
				Reason:     err.Error(),
			}
		}
		return nil, fmt.Errorf("error executing find query: %w", err)
	}

	return results, nil
}

// ViewQuerier is the query surface the result fetcher needs. CouchDBService
// implements it.
type ViewQuerier interface {
	QueryView(designName, viewName string, opts ViewOptions) (*ViewResult, error)
}

// ResultFetcher executes provisioned view queries under the retry policy.
//
// A view that keeps failing after the policy gives up yields an empty row
// set instead of an error: one broken view must not blank out the rest of
// an otherwise-healthy report, so the caller continues with whatever data
// the remaining views produce. The omission is logged.
type ResultFetcher struct {
	Querier ViewQuerier
	Policy  retry.Policy
	Logger  *logrus.Logger
}

func (f *ResultFetcher) logger() *logrus.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return common.Logger
}

// FetchRows queries the view, retrying transient faults. On exhausted
// retries it returns an empty slice.
func (f *ResultFetcher) FetchRows(designDoc, view string) []ViewRow {
	return f.Fetch(designDoc, view, ViewOptions{})
}

// FetchReduced queries the view with its reduce function grouped by key.
func (f *ResultFetcher) FetchReduced(designDoc, view string) []ViewRow {
	return f.Fetch(designDoc, view, ViewOptions{Reduce: true, Group: true})
}

// CountRows returns the total row count of a view without transferring its
// rows. A view that cannot be counted yields zero.
func (f *ResultFetcher) CountRows(designDoc, view string) int64 {
	var result *ViewResult
	err := f.Policy.Do("count view "+designDoc+"/"+view, IsTransient, func() error {
		var qerr error
		result, qerr = f.Querier.QueryView(designDoc, view, ViewOptions{Limit: 1})
		return qerr
	})
	if err != nil {
		f.logger().WithFields(logrus.Fields{
			"design_doc": designDoc,
			"view":       view,
		}).WithError(err).Error("view count failed, reporting zero")
		return 0
	}
	if result == nil {
		return 0
	}
	return result.TotalRows
}

// Fetch queries the view with explicit options under the retry policy.
func (f *ResultFetcher) Fetch(designDoc, view string, opts ViewOptions) []ViewRow {
	var result *ViewResult
	err := f.Policy.Do("fetch view "+designDoc+"/"+view, IsTransient, func() error {
		var qerr error
		result, qerr = f.Querier.QueryView(designDoc, view, opts)
		return qerr
	})
	if err != nil {
		f.logger().WithFields(logrus.Fields{
			"design_doc": designDoc,
			"view":       view,
		}).WithError(err).Error("view query failed, continuing with empty result")
		return []ViewRow{}
	}
	if result == nil {
		return []ViewRow{}
	}
	return result.Rows
}
