package trigger

import "testing"

func TestEvaluateThresholdOperators(t *testing.T) {
	cases := []struct {
		value     float64
		threshold string
		want      bool
	}{
		{5, "> 0", true},
		{5, "> 10", false},
		{5, ">= 5", true},
		{5, "<= 4", false},
		{5, "== 5", true},
		{5, "!= 5", false},
		{5, "< 10", true},
	}
	for _, c := range cases {
		got, err := evaluateThreshold(c.value, c.threshold)
		if err != nil {
			t.Fatalf("evaluateThreshold(%v, %q): %v", c.value, c.threshold, err)
		}
		if got != c.want {
			t.Errorf("evaluateThreshold(%v, %q) = %v, want %v", c.value, c.threshold, got, c.want)
		}
	}
}

func TestEvaluateThresholdInvalidFormat(t *testing.T) {
	if _, err := evaluateThreshold(1, "nonsense"); err == nil {
		t.Fatal("expected error for invalid threshold format")
	}
}
