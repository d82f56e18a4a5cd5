package visit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the overall workflow state of a visit.
type Status string

const (
	StatusPendingAll      Status = "pending_all"
	StatusPendingLab      Status = "pending_lab"
	StatusPendingPharmacy Status = "pending_pharmacy"
	StatusPendingDoctor   Status = "pending_doctor"
	StatusCompleted       Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusPendingAll:      true,
	StatusPendingLab:      true,
	StatusPendingPharmacy: true,
	StatusPendingDoctor:   true,
	StatusCompleted:       true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Type decides which departments a visit starts out requiring.
type Type string

const (
	TypeNormal         Type = "normal"
	TypeDoctorDirected Type = "doctor_directed"
)

func (t Type) Valid() bool { return t == TypeNormal || t == TypeDoctorDirected }

// Department owns one completion flag on a visit.
type Department string

const (
	DeptLab      Department = "lab"
	DeptPharmacy Department = "pharmacy"
	DeptDoctor   Department = "doctor"
)

// Departments in flag order.
var Departments = []Department{DeptLab, DeptPharmacy, DeptDoctor}

func ParseDepartment(s string) (Department, error) {
	switch d := Department(s); d {
	case DeptLab, DeptPharmacy, DeptDoctor:
		return d, nil
	}
	return "", fmt.Errorf("unknown department %q", s)
}

// Role is the directory role a department's staff hold.
func (d Department) Role() string { return string(d) }

// pendingStatus is the narrowed status in which only d is required.
func (d Department) pendingStatus() Status {
	switch d {
	case DeptLab:
		return StatusPendingLab
	case DeptPharmacy:
		return StatusPendingPharmacy
	default:
		return StatusPendingDoctor
	}
}

// Roles outside the three departments.
const (
	RoleFrontDesk = "frontdesk"
	RoleAdmin     = "admin"
)

// CompletionKind tells organic completion apart from a force-close.
type CompletionKind string

const (
	CompletionNone    CompletionKind = ""
	CompletionDerived CompletionKind = "derived"
	CompletionForced  CompletionKind = "forced"
)

// Visit is one patient episode worked on by up to three departments.
type Visit struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	VisitNumber       string         `db:"visit_number" json:"visit_number"`
	PatientID         uuid.UUID      `db:"patient_id" json:"patient_id"`
	Type              Type           `db:"visit_type" json:"visit_type"`
	LabCompleted      bool           `db:"lab_completed" json:"lab_completed"`
	PharmacyCompleted bool           `db:"pharmacy_completed" json:"pharmacy_completed"`
	DoctorCompleted   bool           `db:"doctor_completed" json:"doctor_completed"`
	Status            Status         `db:"status" json:"status"`
	CompletionKind    CompletionKind `db:"completion_kind" json:"completion_kind,omitempty"`
	Version           int            `db:"version" json:"version"`
	CreatedBy         uuid.UUID      `db:"created_by" json:"created_by"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Flag returns the completion flag owned by d.
func (v *Visit) Flag(d Department) bool {
	switch d {
	case DeptLab:
		return v.LabCompleted
	case DeptPharmacy:
		return v.PharmacyCompleted
	default:
		return v.DoctorCompleted
	}
}

func (v *Visit) setFlag(d Department, value bool) {
	switch d {
	case DeptLab:
		v.LabCompleted = value
	case DeptPharmacy:
		v.PharmacyCompleted = value
	default:
		v.DoctorCompleted = value
	}
}

// Forced reports whether the visit is completed by override.
func (v *Visit) Forced() bool {
	return v.Status == StatusCompleted && v.CompletionKind == CompletionForced
}

// NeedsDepartment reports whether d's dashboard should show the visit.
func (v *Visit) NeedsDepartment(d Department) bool {
	if v.Flag(d) {
		return true
	}
	if v.Status == StatusPendingAll || v.Status == d.pendingStatus() {
		return true
	}
	return d == DeptDoctor && v.Type == TypeDoctorDirected && v.Status != StatusCompleted
}

func (v *Visit) clone() *Visit {
	c := *v
	return &c
}

// StatusHistoryEntry is one immutable audit record. Status is either a
// Status or an audit-only pseudo-status such as "lab_completed".
type StatusHistoryEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VisitID   uuid.UUID `db:"visit_id" json:"visit_id"`
	Version   int       `db:"version" json:"version"`
	Status    string    `db:"status" json:"status"`
	Forced    bool      `db:"forced" json:"forced"`
	ChangedBy uuid.UUID `db:"changed_by" json:"changed_by"`
	Notes     string    `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FlagNarration is the pseudo-status recorded when d's flag changes.
func FlagNarration(d Department, completed bool) string {
	if completed {
		return string(d) + "_completed"
	}
	return string(d) + "_incomplete"
}

// CreateInput is what the front desk supplies to open a visit.
type CreateInput struct {
	PatientID uuid.UUID `json:"patient_id"`
	Type      Type      `json:"visit_type"`
	ActorID   uuid.UUID `json:"-"`
}
