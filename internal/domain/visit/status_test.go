package visit

import "testing"

func TestDeriveStatus_AllCombinations(t *testing.T) {
	statuses := []Status{StatusPendingAll, StatusPendingLab, StatusPendingPharmacy, StatusPendingDoctor, StatusCompleted}
	for _, prior := range statuses {
		for mask := 0; mask < 8; mask++ {
			lab, pharmacy, doctor := mask&1 != 0, mask&2 != 0, mask&4 != 0
			got := DeriveStatus(lab, pharmacy, doctor, prior)

			var want Status
			switch {
			case lab && pharmacy && doctor:
				want = StatusCompleted
			case prior == StatusCompleted:
				want = StatusPendingAll
			default:
				want = prior
			}
			if got != want {
				t.Errorf("DeriveStatus(%v, %v, %v, %s) = %s, want %s", lab, pharmacy, doctor, prior, got, want)
			}
			if again := DeriveStatus(lab, pharmacy, doctor, prior); again != got {
				t.Errorf("DeriveStatus not deterministic for (%v, %v, %v, %s)", lab, pharmacy, doctor, prior)
			}
		}
	}
}

func TestDeriveStatus_NarrowedStatusPersists(t *testing.T) {
	if got := DeriveStatus(true, false, false, StatusPendingLab); got != StatusPendingLab {
		t.Errorf("expected pending_lab to persist, got %s", got)
	}
	if got := DeriveStatus(false, false, true, StatusPendingAll); got != StatusPendingAll {
		t.Errorf("expected pending_all to persist, got %s", got)
	}
}

func TestSelectionStatus(t *testing.T) {
	tests := []struct {
		lab, drugs bool
		want       Status
	}{
		{true, true, StatusPendingAll},
		{true, false, StatusPendingLab},
		{false, true, StatusPendingPharmacy},
		{false, false, StatusPendingDoctor},
	}
	for _, tt := range tests {
		if got := SelectionStatus(tt.lab, tt.drugs); got != tt.want {
			t.Errorf("SelectionStatus(%v, %v) = %s, want %s", tt.lab, tt.drugs, got, tt.want)
		}
	}
}

func TestCompletionKindFor(t *testing.T) {
	if completionKindFor(StatusCompleted) != CompletionDerived {
		t.Error("completed should be derived")
	}
	if completionKindFor(StatusPendingAll) != CompletionNone {
		t.Error("pending should carry no completion kind")
	}
}

func TestVisit_NeedsDepartment(t *testing.T) {
	tests := []struct {
		name string
		v    Visit
		d    Department
		want bool
	}{
		{"pending all, flag unset", Visit{Status: StatusPendingAll}, DeptLab, true},
		{"own flag set, can retract", Visit{Status: StatusPendingAll, LabCompleted: true}, DeptLab, true},
		{"narrowed to lab, pharmacy not needed", Visit{Status: StatusPendingLab}, DeptPharmacy, false},
		{"narrowed to lab, lab needed", Visit{Status: StatusPendingLab}, DeptLab, true},
		{"completed, flag set", Visit{Status: StatusCompleted, PharmacyCompleted: true}, DeptPharmacy, true},
		{"force-closed, flag unset", Visit{Status: StatusCompleted, CompletionKind: CompletionForced}, DeptLab, false},
		{"doctor-directed sees doctor", Visit{Type: TypeDoctorDirected, Status: StatusPendingPharmacy}, DeptDoctor, true},
		{"doctor-directed completed", Visit{Type: TypeDoctorDirected, Status: StatusCompleted}, DeptDoctor, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.NeedsDepartment(tt.d); got != tt.want {
				t.Errorf("NeedsDepartment(%s) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

func TestParseDepartment(t *testing.T) {
	for _, d := range Departments {
		got, err := ParseDepartment(string(d))
		if err != nil || got != d {
			t.Errorf("ParseDepartment(%s) = %s, %v", d, got, err)
		}
	}
	if _, err := ParseDepartment("radiology"); err == nil {
		t.Error("expected error for unknown department")
	}
}

func TestFlagNarration(t *testing.T) {
	if FlagNarration(DeptLab, true) != "lab_completed" || FlagNarration(DeptDoctor, false) != "doctor_incomplete" {
		t.Error("unexpected narration")
	}
}
