package domain

import (
	"testing"
	"time"
)

func TestTemplate_Same(t *testing.T) {
	at := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	base := &Template{Blanks: []Blank{{ID: "B1"}, {ID: "B2"}}, GeneratedAt: at}

	tests := []struct {
		name string
		a, b *Template
		want bool
	}{
		{"decoded copy", base, &Template{Blanks: []Blank{{ID: "B1", Prompt: "p"}, {ID: "B2"}}, GeneratedAt: at.In(time.FixedZone("JST", 9*3600))}, true},
		{"regenerated", base, &Template{Blanks: []Blank{{ID: "B1"}, {ID: "B2"}}, GeneratedAt: at.Add(time.Second)}, false},
		{"different blanks", base, &Template{Blanks: []Blank{{ID: "B1"}}, GeneratedAt: at}, false},
		{"renamed blank", base, &Template{Blanks: []Blank{{ID: "B1"}, {ID: "B3"}}, GeneratedAt: at}, false},
		{"nil and template", nil, base, false},
		{"both nil", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Same(tt.b); got != tt.want {
				t.Errorf("Same() = %v, want %v", got, tt.want)
			}
		})
	}
}
