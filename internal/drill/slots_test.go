package drill

import (
	"testing"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

func TestSlotTable(t *testing.T) {
	tbl := newSlotTable()
	k := domain.SlotKey{RecordKey: domain.RecordKey{CollectionID: "c", QuestionID: "q"}, Level: domain.LevelWord}
	other := k
	other.Level = domain.LevelShortAnswer

	e1, ok := tbl.begin(k, opGrade)
	if !ok {
		t.Fatal("first begin rejected")
	}
	if _, ok := tbl.begin(k, opGrade); ok {
		t.Error("duplicate grade accepted")
	}
	if _, ok := tbl.begin(other, opGrade); !ok {
		t.Error("other slot blocked")
	}

	e2, ok := tbl.begin(k, opGenerate)
	if !ok {
		t.Fatal("generate blocked by grade")
	}
	if tbl.current(k, e1) {
		t.Error("grade epoch still current after generate started")
	}
	if !tbl.current(k, e2) {
		t.Error("generate epoch not current")
	}

	tbl.end(k, opGrade)
	if tbl.inFlight(k, opGrade) {
		t.Error("grade still in flight after end")
	}
	if _, ok := tbl.begin(k, opGrade); !ok {
		t.Error("grade rejected after end")
	}
}
