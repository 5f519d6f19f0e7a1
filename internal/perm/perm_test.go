package perm

import "testing"

func TestHas(t *testing.T) {
	cases := []struct {
		name     string
		level    Level
		required Level
		allow    bool
	}{
		{name: "view satisfies view", level: LevelView, required: LevelView, allow: true},
		{name: "view denies comment", level: LevelView, required: LevelComment, allow: false},
		{name: "view denies edit", level: LevelView, required: LevelEdit, allow: false},
		{name: "comment satisfies view", level: LevelComment, required: LevelView, allow: true},
		{name: "comment satisfies comment", level: LevelComment, required: LevelComment, allow: true},
		{name: "comment denies edit", level: LevelComment, required: LevelEdit, allow: false},
		{name: "edit satisfies comment", level: LevelEdit, required: LevelComment, allow: true},
		{name: "edit satisfies edit", level: LevelEdit, required: LevelEdit, allow: true},
		{name: "owner satisfies view", level: LevelOwner, required: LevelView, allow: true},
		{name: "owner satisfies comment", level: LevelOwner, required: LevelComment, allow: true},
		{name: "owner satisfies edit", level: LevelOwner, required: LevelEdit, allow: true},
		{name: "none denies view", level: LevelNone, required: LevelView, allow: false},
		{name: "none denies comment", level: LevelNone, required: LevelComment, allow: false},
		{name: "none denies edit", level: LevelNone, required: LevelEdit, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Has(tc.level, tc.required); got != tc.allow {
				t.Fatalf("Has(%q, %q) = %v, want %v", tc.level, tc.required, got, tc.allow)
			}
		})
	}
}

func TestHasMonotonic(t *testing.T) {
	// Anything gated at comment must also pass for edit and owner.
	for _, level := range []Level{LevelEdit, LevelOwner} {
		if !Has(level, LevelComment) {
			t.Fatalf("Has(%q, comment) = false, want true", level)
		}
	}
}

func TestGrantable(t *testing.T) {
	for _, level := range []Level{LevelView, LevelComment, LevelEdit} {
		if !Grantable(level) {
			t.Fatalf("Grantable(%q) = false, want true", level)
		}
	}
	for _, level := range []Level{LevelOwner, LevelNone, Level("admin"), Level("")} {
		if Grantable(level) {
			t.Fatalf("Grantable(%q) = true, want false", level)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("edit"); got != LevelEdit {
		t.Fatalf("Normalize(edit) = %q, want edit", got)
	}
	if got := Normalize("superuser"); got != LevelView {
		t.Fatalf("Normalize(superuser) = %q, want view", got)
	}
	if got := Normalize(""); got != LevelView {
		t.Fatalf("Normalize(empty) = %q, want view", got)
	}
}
