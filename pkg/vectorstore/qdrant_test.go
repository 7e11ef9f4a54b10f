package vectorstore

import "testing"

func TestPointID_Deterministic(t *testing.T) {
	a := pointID("report.pdf_p1_c1")
	b := pointID("report.pdf_p1_c1")
	if a != b {
		t.Fatalf("same chunk id produced different point ids: %s vs %s", a, b)
	}
	if a == pointID("report.pdf_p1_c2") {
		t.Error("distinct chunk ids collided")
	}
	if len(a) != 36 {
		t.Errorf("point id %q is not a canonical uuid", a)
	}
}
