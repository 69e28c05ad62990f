package db

import "fmt"

// CouchDBError represents a CouchDB-specific error with HTTP status context.
// The status code is what the retry classifiers key on.
type CouchDBError struct {
	StatusCode int    // HTTP status code from CouchDB
	ErrorType  string // CouchDB error type (e.g. "not_found", "conflict")
	Reason     string // Human-readable error description
}

// Error implements the error interface.
func (e *CouchDBError) Error() string {
	return fmt.Sprintf("CouchDB error (status %d): %s - %s", e.StatusCode, e.ErrorType, e.Reason)
}

// IsNotFound returns true if the error is a 404 Not Found.
func (e *CouchDBError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsConflict returns true if the error is a 409 revision conflict. During
// concurrent view provisioning a conflict signals a lost read-modify-write
// race and is retryable after re-reading the design document.
func (e *CouchDBError) IsConflict() bool {
	return e.StatusCode == 409
}

// IsUnauthorized returns true for 401/403 auth failures.
func (e *CouchDBError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// View is a single MapReduce view inside a design document.
type View struct {
	Map    string `json:"map"`              // Map function source
	Reduce string `json:"reduce,omitempty"` // Optional reduce function source
}

// DesignDoc is a CouchDB design document bundling named views. A design
// document holds many views; updating it must preserve sibling views, so
// every write goes through read-modify-write against the current revision.
type DesignDoc struct {
	ID       string          `json:"_id"`
	Rev      string          `json:"_rev,omitempty"`
	Language string          `json:"language,omitempty"`
	Views    map[string]View `json:"views"`
}

// ViewDefinition names one view and the design document that owns it,
// together with the map/reduce source needed to create it on demand.
// A view is uniquely identified by (DesignDoc, Name).
type ViewDefinition struct {
	DesignDoc string // Owning design document name, without "_design/"
	Name      string // View name within the design document
	Map       string // Map function source
	Reduce    string // Optional reduce function source
}

// ViewRow is one row returned by a view query. Key and Value are whatever
// the map function emitted.
type ViewRow struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
}

// ViewResult holds the rows of a view query. TotalRows is the full row
// count of the view regardless of any limit applied to the query.
type ViewResult struct {
	Rows      []ViewRow
	TotalRows int64
}

// ViewOptions configures a view query.
type ViewOptions struct {
	Limit      int  // Maximum number of rows, zero means no limit
	Reduce     bool // Execute the reduce function
	Group      bool // Group reduce results by key
	NoReduce   bool // Explicitly disable reduce on a reduce-capable view
	Descending bool // Reverse sort order
}

// MangoQuery represents an ad hoc CouchDB Mango (post_find) query.
type MangoQuery struct {
	Selector map[string]interface{} // Filter conditions
	Fields   []string               // Fields to return, empty means all
	Limit    int                    // Result ceiling, zero means MaxFindLimit
}

func (q *MangoQuery) toParams() map[string]interface{} {
	params := make(map[string]interface{})

	if len(q.Fields) > 0 {
		params["fields"] = q.Fields
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	} else {
		params["limit"] = MaxFindLimit
	}

	return params
}

// TypeSelector builds the standard discriminator selector
// {"type": {"$eq": doctype}} used by all document enumeration queries.
func TypeSelector(doctype string) map[string]interface{} {
	return map[string]interface{}{
		"type": map[string]interface{}{"$eq": doctype},
	}
}
