package pipeline

import (
	"testing"
)

func TestKindForName(t *testing.T) {
	cases := map[string]StageKind{
		"segment":                    StageSegment,
		"pdf_segmentation":           StageSegment,
		"Clean":                      StageClean,
		"llm_cleaning":               StageClean,
		"postprocess":                StagePostProcess,
		"post_processing_cleanup":    StagePostProcess,
		"format":                     StageFormat,
		"post_processing_formatting": StageFormat,
		"convert":                    StageConvert,
		"vtt_conversion":             StageConvert,
		"something-else":             StageCustom,
		"":                           StageCustom,
	}
	for name, want := range cases {
		if got := KindForName(name); got != want {
			t.Errorf("KindForName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestStageKindString(t *testing.T) {
	if StageSegment.String() != "segment" || StageCustom.String() != "custom" {
		t.Fatalf("unexpected kind names: %s %s", StageSegment, StageCustom)
	}
}

func TestExpandArgs(t *testing.T) {
	st := Stage{Args: []string{"{input}", "--out", "data/markdown/{stem}", "{dir}"}}
	got := st.ExpandArgs("/data/in/book.pdf")
	want := []string{"/data/in/book.pdf", "--out", "data/markdown/book", "/data/in"}
	if len(got) != len(want) {
		t.Fatalf("len %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: %q, want %q", i, got[i], want[i])
		}
	}
}

func TestArtifactFor(t *testing.T) {
	st := Stage{Artifact: "data/json/{stem}"}
	if got := st.ArtifactFor("/data/book.pdf"); got != "data/json/book" {
		t.Fatalf("artifact: %q", got)
	}
	if got := (Stage{}).ArtifactFor("/data/book.pdf"); got != "" {
		t.Fatalf("expected empty artifact, got %q", got)
	}
}

func TestDefaultStages(t *testing.T) {
	stages := DefaultStages()
	if len(stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(stages))
	}
	wantKinds := []StageKind{StageSegment, StageClean, StagePostProcess, StageFormat, StageConvert}
	for i, st := range stages {
		if st.Kind != wantKinds[i] {
			t.Errorf("stage %d kind %v, want %v", i, st.Kind, wantKinds[i])
		}
		if st.Command == "" || st.Name == "" {
			t.Errorf("stage %d incomplete: %+v", i, st)
		}
	}
	if stages[4].Artifact == "" {
		t.Error("final stage should declare an artifact")
	}
}
