// Package report turns portal documents and AWS telemetry into the gauge
// sets the dashboard graphs are built on. Each collection stage ensures
// the views it needs, fetches their rows, aggregates them, and records
// gauges on a per-run sink; the command layer pushes the sink once every
// stage has run.
package report

import (
	"dashboard.sw360.org/db"
)

// Design document names in the portal database. The portal itself ships
// the Component, Project and Release documents with their "all" views;
// the exporter adds its own reporting views next to them.
const (
	ComponentDesignDoc  = "Component"
	ProjectDesignDoc    = "Project"
	ReleaseDesignDoc    = "Release"
	AttachmentDesignDoc = "AttachmentContent"
)

// AllView is the portal-provided view that indexes every document of a
// design document's type; its total row count is the document count.
const AllView = "all"

// Reporting views over the portal database.
var (
	// ComponentsByType indexes components by their componentType field.
	ComponentsByType = db.ViewDefinition{
		DesignDoc: ComponentDesignDoc,
		Name:      "bycomponenttype",
		Map: `function(doc) {
  if (doc.type == 'component') {
    emit(doc.componentType, doc._id);
  }
}`,
	}

	// ComponentsByCreatedOn indexes components by creation date.
	ComponentsByCreatedOn = db.ViewDefinition{
		DesignDoc: ComponentDesignDoc,
		Name:      "byCreatedOn",
		Map: `function(doc) {
  if (doc.type == 'component') {
    emit(doc.createdOn, doc._id);
  }
}`,
	}

	// ProjectsByCreatedOn indexes projects by creation date.
	ProjectsByCreatedOn = db.ViewDefinition{
		DesignDoc: ProjectDesignDoc,
		Name:      "byCreatedOn",
		Map: `function(doc) {
  if (doc.type == 'project') {
    emit(doc.createdOn, doc._id);
  }
}`,
	}

	// ReleasesByCreatedOn indexes releases by creation date.
	ReleasesByCreatedOn = db.ViewDefinition{
		DesignDoc: ReleaseDesignDoc,
		Name:      "byCreatedOn",
		Map: `function(doc) {
  if (doc.type == 'release') {
    emit(doc.createdOn, doc._id);
  }
}`,
	}

	// ReleasesByECCStatus emits [eccStatus, componentType] per release.
	ReleasesByECCStatus = db.ViewDefinition{
		DesignDoc: ReleaseDesignDoc,
		Name:      "byECCStatus",
		Map: `function(doc) {
  if (doc.type === 'release' && doc.eccInformation) {
    var eccStatus = doc.eccInformation.eccStatus || 'UNKNOWN';
    var componentType = doc.componentType || 'UNKNOWN';
    emit(doc.componentId, [eccStatus, componentType]);
  }
}`,
	}

	// ReleasesByComponent emits the release name keyed by component ID,
	// one row per release of the component.
	ReleasesByComponent = db.ViewDefinition{
		DesignDoc: ReleaseDesignDoc,
		Name:      "byReleaseIdAndComponent",
		Map: `function(doc) {
  if (doc.type == 'release') {
    emit(doc.componentId, doc.name);
  }
}`,
	}

	// ReleasesByECCStatusAndName emits [eccStatus, name] keyed by
	// component ID, for the cleared-components report.
	ReleasesByECCStatusAndName = db.ViewDefinition{
		DesignDoc: ReleaseDesignDoc,
		Name:      "byECCStatusAndName",
		Map: `function(doc) {
  if (doc.type === 'release' && doc.eccInformation) {
    var eccStatus = doc.eccInformation.eccStatus || 'UNKNOWN';
    var componentName = doc.name || 'UNKNOWN';
    emit(doc.componentId, [eccStatus, componentName]);
  }
}`,
	}

	// ComponentsByMainLicense emits one row per main license of a
	// component, with EMPTY standing in for components without licenses.
	ComponentsByMainLicense = db.ViewDefinition{
		DesignDoc: ComponentDesignDoc,
		Name:      "bymainLicenseIdArr",
		Map: `function(doc) {
  if (doc.type == 'component') {
    if (doc.mainLicenseIds) {
      for (var i in doc.mainLicenseIds) {
        emit(doc.mainLicenseIds[i], doc._id);
      }
    } else {
      emit('EMPTY', doc._id);
    }
  }
}`,
	}

	// ProjectsByReleaseID emits one row per release a project links.
	ProjectsByReleaseID = db.ViewDefinition{
		DesignDoc: ProjectDesignDoc,
		Name:      "byReleaseId",
		Map: `function(doc) {
  if (doc.type == 'project' && doc.releaseIdToUsage) {
    for (var releaseId in doc.releaseIdToUsage) {
      emit(releaseId, null);
    }
  }
}`,
	}

	// ReleasesByID emits [componentId, name] keyed by release ID, for
	// the unused-components report.
	ReleasesByID = db.ViewDefinition{
		DesignDoc: ReleaseDesignDoc,
		Name:      "byReleaseIdAndComponentId",
		Map: `function(doc) {
  if (doc.type == 'release') {
    emit(doc._id, [doc.componentId, doc.name]);
  }
}`,
	}
)

// AttachmentDiskUsage folds attachment lengths with the builtin _stats
// reduce; the unreduced sum is the total attachment payload in bytes.
// This view lives in the attachment database, not the portal database.
var AttachmentDiskUsage = db.ViewDefinition{
	DesignDoc: AttachmentDesignDoc,
	Name:      "totalDiskUsage",
	Map: `function(doc) {
  if (doc.type === 'attachment' && doc._attachments) {
    for (var key in doc._attachments) {
      emit(doc._id, doc._attachments[key].length);
    }
  }
}`,
	Reduce: "_stats",
}

// PortalViews are the reporting views provisioned in the portal database
// before any stage queries them.
var PortalViews = []db.ViewDefinition{
	ComponentsByType,
	ComponentsByCreatedOn,
	ProjectsByCreatedOn,
	ReleasesByCreatedOn,
	ReleasesByECCStatus,
	ReleasesByComponent,
	ReleasesByECCStatusAndName,
	ComponentsByMainLicense,
	ProjectsByReleaseID,
	ReleasesByID,
}
