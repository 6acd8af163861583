package permission

import (
	"reflect"
	"testing"
)

func TestAssessReadOnlyToolIsLow(t *testing.T) {
	a := Assess(ToolRef{Name: "get_time", Description: "Returns the current time"}, nil)
	if a.Level != RiskLow {
		t.Errorf("level = %v, want %v", a.Level, RiskLow)
	}
	if len(a.Categories) != 0 {
		t.Errorf("categories = %v, want none", a.Categories)
	}
}

func TestAssessFileAccessIsMedium(t *testing.T) {
	a := Assess(ToolRef{Name: "read_file", Description: "Reads a file from disk"}, nil)
	if a.Level != RiskMedium {
		t.Errorf("level = %v, want %v", a.Level, RiskMedium)
	}
	if !a.HasCategory(CategoryFile) {
		t.Errorf("categories = %v, want file", a.Categories)
	}
}

func TestAssessPathArgumentIsMedium(t *testing.T) {
	a := Assess(ToolRef{Name: "lookup"}, map[string]any{"path": "/etc/hosts"})
	if a.Level != RiskMedium {
		t.Errorf("level = %v, want %v", a.Level, RiskMedium)
	}
	if !a.HasCategory(CategoryFile) {
		t.Errorf("categories = %v, want file", a.Categories)
	}
}

func TestAssessResourceAccessByURIShape(t *testing.T) {
	ref := ToolRef{Name: "resource", Description: "Resource access"}

	// A custom-scheme URI with no path or domain stays low.
	a := Assess(ref, map[string]any{"uri": "demo://greeting"})
	if a.Level != RiskLow {
		t.Errorf("custom-scheme URI level = %v, want %v (reasons %v)", a.Level, RiskLow, a.Reasons)
	}
	if len(a.Categories) != 0 {
		t.Errorf("custom-scheme URI categories = %v, want none", a.Categories)
	}

	// A file-scheme URI classifies like the path it names.
	a = Assess(ref, map[string]any{"uri": "file:///etc/passwd"})
	if a.Level != RiskMedium {
		t.Errorf("file URI level = %v, want %v", a.Level, RiskMedium)
	}
	if !a.HasCategory(CategoryFile) {
		t.Errorf("file URI categories = %v, want file", a.Categories)
	}

	// An http URI classifies as network access.
	a = Assess(ref, map[string]any{"uri": "https://example.com/data"})
	if a.Level != RiskMedium {
		t.Errorf("http URI level = %v, want %v", a.Level, RiskMedium)
	}
	if !a.HasCategory(CategoryNetwork) {
		t.Errorf("http URI categories = %v, want network", a.Categories)
	}
}

func TestAssessModificationIsHigh(t *testing.T) {
	a := Assess(ToolRef{Name: "delete_file", Description: "Deletes a file"}, nil)
	if a.Level != RiskHigh {
		t.Errorf("level = %v, want %v", a.Level, RiskHigh)
	}
	if !a.HasCategory(CategoryFile) {
		t.Errorf("categories = %v, want file", a.Categories)
	}
}

func TestAssessNetworkIsMedium(t *testing.T) {
	a := Assess(ToolRef{Name: "fetch_page", Description: "Fetch a URL over HTTP"}, nil)
	if a.Level != RiskMedium {
		t.Errorf("level = %v, want %v", a.Level, RiskMedium)
	}
	if !a.HasCategory(CategoryNetwork) {
		t.Errorf("categories = %v, want network", a.Categories)
	}
}

func TestAssessCommandExecutionIsHigh(t *testing.T) {
	a := Assess(ToolRef{Name: "run_command", Description: "Execute a shell command"}, nil)
	if a.Level != RiskHigh {
		t.Errorf("level = %v, want %v", a.Level, RiskHigh)
	}
	if !a.HasCategory(CategorySystem) {
		t.Errorf("categories = %v, want system", a.Categories)
	}
}

func TestAssessSensitiveArgumentKeyIsHigh(t *testing.T) {
	a := Assess(ToolRef{Name: "store_value"}, map[string]any{"api_key": "abc123"})
	if a.Level != RiskHigh {
		t.Errorf("level = %v, want %v", a.Level, RiskHigh)
	}
}

func TestAssessWholeWordMatching(t *testing.T) {
	// "prune" contains "run" and "keyboard" contains "key" as
	// substrings; neither may trigger a rule.
	a := Assess(ToolRef{Name: "prune_cache", Description: "Compacts the keyboard layout cache"}, nil)
	if a.Level != RiskLow {
		t.Errorf("level = %v, want %v (reasons: %v)", a.Level, RiskLow, a.Reasons)
	}
}

func TestAssessAccumulatesReasons(t *testing.T) {
	a := Assess(ToolRef{Name: "download_file", Description: "Download a URL and write it to disk"}, nil)
	if a.Level != RiskHigh {
		t.Errorf("level = %v, want %v", a.Level, RiskHigh)
	}
	if len(a.Reasons) < 2 {
		t.Errorf("reasons = %v, want at least file and network", a.Reasons)
	}
	if !a.HasCategory(CategoryFile) || !a.HasCategory(CategoryNetwork) {
		t.Errorf("categories = %v, want file and network", a.Categories)
	}
}

func TestAssessIsPure(t *testing.T) {
	tool := ToolRef{Name: "read_file", Description: "Reads a file"}
	args := map[string]any{"path": "/tmp/x", "token": "abc"}
	first := Assess(tool, args)
	for i := 0; i < 10; i++ {
		if got := Assess(tool, args); !reflect.DeepEqual(got, first) {
			t.Fatalf("assessment varied across calls: %+v vs %+v", got, first)
		}
	}
}

func TestParseRiskLevelRoundTrip(t *testing.T) {
	for _, l := range []RiskLevel{AutoApproveNone, RiskLow, RiskMedium, RiskHigh} {
		if got := ParseRiskLevel(l.String()); got != l {
			t.Errorf("ParseRiskLevel(%q) = %v, want %v", l.String(), got, l)
		}
	}
}
