package notification

import "testing"

func TestTemplateEngine_BuiltIns(t *testing.T) {
	e := NewTemplateEngine()
	for _, id := range []string{TemplateVisitCreated, TemplateVisitItemsSelected, TemplateVisitCompleted, TemplateVisitForceClosed} {
		if _, err := e.Render(id, nil); err != nil {
			t.Errorf("built-in %s missing: %v", id, err)
		}
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()

	out, err := e.Render(TemplateVisitItemsSelected, map[string]string{
		"visit_number": "20240105-0001",
		"department":   "lab",
		"item_count":   "2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Title != "Visit 20240105-0001 needs lab" {
		t.Errorf("unexpected title %q", out.Title)
	}
	if out.Body != "The doctor selected 2 item(s) for lab on visit 20240105-0001." {
		t.Errorf("unexpected body %q", out.Body)
	}
	if out.Type != TypeVisitItemsSelected {
		t.Errorf("unexpected type %q", out.Type)
	}
}

func TestTemplateEngine_MissingKeysAndTrim(t *testing.T) {
	e := NewTemplateEngine()

	out, _ := e.Render(TemplateVisitForceClosed, map[string]string{"visit_number": "V1", "notes": ""})
	if out.Body != "Visit V1 was closed by the front desk." {
		t.Errorf("expected trailing space trimmed, got %q", out.Body)
	}

	partial, _ := e.Render(TemplateVisitCreated, map[string]string{"visit_number": "V2"})
	if partial.Body != "Visit V2 ({{visit_type}}) is waiting for {{department}}." {
		t.Errorf("unfilled placeholders should stay, got %q", partial.Body)
	}
}

func TestTemplateEngine_UnknownAndImmutable(t *testing.T) {
	e := NewTemplateEngine()
	if _, err := e.Render("custom", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}

	out, err := e.Render(TemplateVisitForceClosed, map[string]string{"visit_number": "V9", "notes": "left"})
	if err != nil || out.Title != "Visit V9 closed" {
		t.Fatalf("unexpected render %+v (%v)", out, err)
	}

	// rendering must not mutate the stored template
	again, _ := e.Render(TemplateVisitForceClosed, nil)
	if again.Title != "Visit {{visit_number}} closed" {
		t.Errorf("stored template was mutated: %q", again.Title)
	}
}
