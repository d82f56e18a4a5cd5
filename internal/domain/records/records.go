// Package records is the workflow's view of department records: whether any
// exist for a visit, the lab test and drug catalogs, and the pending
// placeholders created when a doctor selects items.
package records

import (
	"github.com/ehr/visitflow/internal/domain/visit"
)

// Store implements visit.Records.
type Store interface {
	visit.Records
}

// Pending is the status of a placeholder created at item selection.
const Pending = "pending"

var recordTables = map[visit.Department]string{
	visit.DeptLab:      "lab_result",
	visit.DeptPharmacy: "prescription",
	visit.DeptDoctor:   "diagnosis",
}
