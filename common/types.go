// SW360 document types. The exporter only reads these documents; they are
// created and mutated by the SW360 portal itself. Every document carries a
// "type" discriminator that the Mango selectors filter on.
package common

// Document type discriminator values as stored in the "type" field.
const (
	DocTypeComponent  = "component"
	DocTypeRelease    = "release"
	DocTypeProject    = "project"
	DocTypeAttachment = "attachment"
)

// Component represents an SW360 component document.
type Component struct {
	ID             string   `json:"_id"`
	Rev            string   `json:"_rev,omitempty"`
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	ComponentType  string   `json:"componentType,omitempty"`
	CreatedOn      string   `json:"createdOn,omitempty"`
	CreatedBy      string   `json:"createdBy,omitempty"`
	MainLicenseIDs []string `json:"mainLicenseIds,omitempty"`
}

// ECCInformation carries the export-control clearing state of a release.
type ECCInformation struct {
	ECCStatus string `json:"eccStatus,omitempty"`
}

// Release represents an SW360 release document. A release belongs to
// exactly one component via ComponentID; a release whose component no
// longer exists is orphaned.
type Release struct {
	ID             string          `json:"_id"`
	Rev            string          `json:"_rev,omitempty"`
	Type           string          `json:"type"`
	Name           string          `json:"name"`
	Version        string          `json:"version,omitempty"`
	ComponentID    string          `json:"componentId,omitempty"`
	CreatedOn      string          `json:"createdOn,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	ECCInformation *ECCInformation `json:"eccInformation,omitempty"`
}

// Project represents an SW360 project document. ReleaseIDToUsage maps the
// IDs of every release the project links to its usage descriptor; only the
// keys matter to the exporter.
type Project struct {
	ID               string                 `json:"_id"`
	Rev              string                 `json:"_rev,omitempty"`
	Type             string                 `json:"type"`
	Name             string                 `json:"name"`
	CreatedOn        string                 `json:"createdOn,omitempty"`
	ReleaseIDToUsage map[string]interface{} `json:"releaseIdToUsage,omitempty"`
}
