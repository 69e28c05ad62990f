package db

import (
	"fmt"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/retry"
)

// ProvisioningState tracks a view through the ensure lifecycle.
type ProvisioningState int

const (
	StateUnknown ProvisioningState = iota
	StateExists
	StateMissing
	StateCreating
	StateIndexingWait
	StateReady
	StateFailed
)

// String implements fmt.Stringer.
func (s ProvisioningState) String() string {
	switch s {
	case StateExists:
		return "exists"
	case StateMissing:
		return "missing"
	case StateCreating:
		return "creating"
	case StateIndexingWait:
		return "indexing-wait"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DesignDocStore is the narrow surface the view provisioner needs from the
// document store. CouchDBService implements it; tests substitute fakes.
type DesignDocStore interface {
	// GetDesignDoc fetches the named design document. A missing document
	// is reported as a CouchDBError with status 404.
	GetDesignDoc(name string) (*DesignDoc, error)

	// PutDesignDoc upserts a design document. The Rev field must carry the
	// current revision for updates; a stale revision yields a 409 conflict.
	PutDesignDoc(doc *DesignDoc) error

	// ProbeView issues a minimal (limit=1) query against the view, purely
	// to learn whether its index is queryable.
	ProbeView(designDoc, view string) error
}

// DefaultSettleDelay is slept after a view write before the first index
// probe, giving CouchDB a moment to pick up the new design document.
const DefaultSettleDelay = 5 * time.Second

// ViewProvisioner ensures named views exist and are queryable.
//
// Ensure is idempotent: when the view already exists it returns ready
// without issuing a write or waiting. Concurrent provisioning of the same
// view by independent runs is tolerated — the design-document
// read-modify-write is not atomic, so a lost race surfaces as a revision
// conflict which is retried with a fresh read and re-merge.
type ViewProvisioner struct {
	Store DesignDocStore

	// DryRun skips the design-document write but still walks the state
	// machine, so a read-only run reports what it would have created.
	DryRun bool

	// WritePolicy drives retries of the design-document upsert.
	WritePolicy retry.Policy

	// PollPolicy drives the post-write indexing poll.
	PollPolicy retry.Policy

	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration

	// Sleep is overridable for tests. Defaults to time.Sleep.
	Sleep func(time.Duration)

	// Observer, when set, receives every state transition. Used by tests
	// to assert the dry-run path still passes through the creating state.
	Observer func(ProvisioningState)

	Logger *logrus.Logger
}

func (p *ViewProvisioner) logger() *logrus.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return common.Logger
}

func (p *ViewProvisioner) transition(state ProvisioningState) {
	if p.Observer != nil {
		p.Observer(state)
	}
}

func (p *ViewProvisioner) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Ensure makes sure the view exists and is queryable. It returns StateReady
// on success and StateFailed with the underlying error otherwise.
//
// Calling Ensure twice for the same view is cheap: the second call finds
// the view in the design document and returns immediately with no write and
// no indexing wait.
func (p *ViewProvisioner) Ensure(view ViewDefinition) (ProvisioningState, error) {
	log := p.logger().WithFields(logrus.Fields{
		"design_doc": view.DesignDoc,
		"view":       view.Name,
	})
	p.transition(StateUnknown)

	existing, err := p.Store.GetDesignDoc(view.DesignDoc)
	if err == nil && existing != nil {
		if _, ok := existing.Views[view.Name]; ok {
			log.Debug("view already exists")
			p.transition(StateExists)
			p.transition(StateReady)
			return StateReady, nil
		}
	} else if err != nil && !isNotFound(err) {
		p.transition(StateFailed)
		return StateFailed, fmt.Errorf("failed to read design document %s: %w", view.DesignDoc, err)
	}

	p.transition(StateMissing)
	log.Info("creating view")
	p.transition(StateCreating)

	if p.DryRun {
		log.Info("dry run: skipping view creation")
		p.transition(StateReady)
		return StateReady, nil
	}

	// Re-read and re-merge on every attempt: a concurrent provisioner may
	// have replaced the design document since our last read.
	err = p.WritePolicy.Do("create view "+view.DesignDoc+"/"+view.Name, IsProvisionRetryable, func() error {
		return p.writeView(view)
	})
	if err != nil {
		p.transition(StateFailed)
		return StateFailed, fmt.Errorf("failed to create view %s/%s: %w", view.DesignDoc, view.Name, err)
	}

	settle := p.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	log.WithField("settle", settle.String()).Info("waiting for new view to be indexed")
	p.sleep(settle)

	p.transition(StateIndexingWait)
	err = p.PollPolicy.Do("index view "+view.DesignDoc+"/"+view.Name, IsIndexingWait, func() error {
		return p.Store.ProbeView(view.DesignDoc, view.Name)
	})
	if err != nil {
		p.transition(StateFailed)
		return StateFailed, fmt.Errorf("view %s/%s never became queryable: %w", view.DesignDoc, view.Name, err)
	}

	p.transition(StateReady)
	return StateReady, nil
}

// writeView performs one read-modify-write of the owning design document,
// merging the new view into whatever views already exist.
func (p *ViewProvisioner) writeView(view ViewDefinition) error {
	doc, err := p.Store.GetDesignDoc(view.DesignDoc)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		doc = &DesignDoc{
			ID:       "_design/" + view.DesignDoc,
			Language: "javascript",
			Views:    map[string]View{},
		}
	}
	if doc.Views == nil {
		doc.Views = map[string]View{}
	}
	doc.Views[view.Name] = View{Map: view.Map, Reduce: view.Reduce}

	return p.Store.PutDesignDoc(doc)
}

func isNotFound(err error) bool {
	return httpStatus(err) == 404
}

// GetDesignDoc implements DesignDocStore.
func (c *CouchDBService) GetDesignDoc(name string) (*DesignDoc, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	id := name
	if !strings.HasPrefix(id, "_design/") {
		id = "_design/" + id
	}

	row := c.database.Get(ctx, id)
	if row.Err() != nil {
		if status := kivik.HTTPStatus(row.Err()); status != 0 {
			return nil, &CouchDBError{
				StatusCode: status,
				ErrorType:  "get_design_doc_failed",
				Reason:     row.Err().Error(),
			}
		}
		return nil, fmt.Errorf("failed to get design document: %w", row.Err())
	}

	var doc DesignDoc
	if err := row.ScanDoc(&doc); err != nil {
		return nil, fmt.Errorf("failed to scan design document: %w", err)
	}
	doc.ID = id
	return &doc, nil
}

// PutDesignDoc implements DesignDocStore.
func (c *CouchDBService) PutDesignDoc(doc *DesignDoc) error {
	ctx, cancel := c.opContext()
	defer cancel()

	if !strings.HasPrefix(doc.ID, "_design/") {
		doc.ID = "_design/" + doc.ID
	}
	if doc.Language == "" {
		doc.Language = "javascript"
	}

	_, err := c.database.Put(ctx, doc.ID, doc)
	if err != nil {
		if status := kivik.HTTPStatus(err); status != 0 {
			return &CouchDBError{
				StatusCode: status,
				ErrorType:  "put_design_doc_failed",
				Reason:     err.Error(),
			}
		}
		return fmt.Errorf("failed to put design document: %w", err)
	}
	return nil
}

// ProbeView implements DesignDocStore.
func (c *CouchDBService) ProbeView(designDoc, view string) error {
	_, err := c.QueryView(designDoc, view, ViewOptions{Limit: 1})
	return err
}

// QueryView executes a view query and collects all rows.
func (c *CouchDBService) QueryView(designName, viewName string, opts ViewOptions) (*ViewResult, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	designName = strings.TrimPrefix(designName, "_design/")

	params := make(map[string]interface{})
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Reduce {
		params["reduce"] = true
	} else if opts.NoReduce {
		params["reduce"] = false
	}
	if opts.Group {
		params["group"] = true
	}
	if opts.Descending {
		params["descending"] = true
	}

	rows := c.database.Query(ctx, "_design/"+designName, viewName, kivik.Params(params))
	defer rows.Close()

	result := &ViewResult{Rows: []ViewRow{}}
	for rows.Next() {
		row := ViewRow{}
		if id, err := rows.ID(); err == nil {
			row.ID = id
		}
		var key interface{}
		if err := rows.ScanKey(&key); err == nil {
			row.Key = key
		}
		var value interface{}
		if err := rows.ScanValue(&value); err == nil {
			row.Value = value
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		if status := kivik.HTTPStatus(err); status != 0 {
			return nil, &CouchDBError{
				StatusCode: status,
				ErrorType:  "query_view_failed",
				Reason:     err.Error(),
			}
		}
		return nil, fmt.Errorf("error querying view: %w", err)
	}

	if md, err := rows.Metadata(); err == nil && md != nil {
		result.TotalRows = md.TotalRows
	}

	return result, nil
}
