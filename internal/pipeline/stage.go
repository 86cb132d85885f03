package pipeline

import (
	"path/filepath"
	"strings"
)

// StageKind tags what a stage does, carried alongside the process id so no
// component has to parse meaning out of id strings.
type StageKind int

const (
	StageCustom StageKind = iota
	StageSegment
	StageClean
	StagePostProcess
	StageFormat
	StageConvert
)

func (k StageKind) String() string {
	switch k {
	case StageSegment:
		return "segment"
	case StageClean:
		return "clean"
	case StagePostProcess:
		return "postprocess"
	case StageFormat:
		return "format"
	case StageConvert:
		return "convert"
	default:
		return "custom"
	}
}

// KindForName maps the well-known stage names onto kinds; anything else is
// StageCustom.
func KindForName(name string) StageKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "segment", "pdf_segmentation":
		return StageSegment
	case "clean", "llm_cleaning":
		return StageClean
	case "postprocess", "post_processing_cleanup":
		return StagePostProcess
	case "format", "post_processing_formatting":
		return StageFormat
	case "convert", "vtt_conversion":
		return StageConvert
	default:
		return StageCustom
	}
}

// Stage is one external-executable step of the pipeline. Command and Args may
// reference the entity through placeholders:
//
//	{input} - the entity path
//	{stem}  - the entity base name without extension
//	{dir}   - the entity's directory
//
// Artifact, when set, names the output the stage is expected to produce; it
// supports the same placeholders and is reported on completion.
type Stage struct {
	Kind     StageKind `json:"kind"`
	Name     string    `json:"name"`
	Command  string    `json:"command"`
	Args     []string  `json:"args,omitempty"`
	WorkDir  string    `json:"work_dir,omitempty"`
	Artifact string    `json:"artifact,omitempty"`
}

// ExpandArgs resolves placeholders against the given entity path.
func (st Stage) ExpandArgs(entity string) []string {
	if len(st.Args) == 0 {
		return nil
	}
	out := make([]string, len(st.Args))
	for i, a := range st.Args {
		out[i] = expand(a, entity)
	}
	return out
}

// ArtifactFor resolves the artifact template for the entity; empty when the
// stage declares no artifact.
func (st Stage) ArtifactFor(entity string) string {
	if st.Artifact == "" {
		return ""
	}
	return expand(st.Artifact, entity)
}

func expand(tmpl, entity string) string {
	stem := strings.TrimSuffix(filepath.Base(entity), filepath.Ext(entity))
	r := strings.NewReplacer(
		"{input}", entity,
		"{stem}", stem,
		"{dir}", filepath.Dir(entity),
	)
	return r.Replace(tmpl)
}

// DefaultStages is the five-step PDF conversion pipeline: segmentation, LLM
// cleaning, artifact cleanup, heading formatting and VTT JSON conversion.
func DefaultStages() []Stage {
	return []Stage{
		{Kind: StageSegment, Name: "segment", Command: "python3",
			Args: []string{"pdf_segmenter.py", "{input}", "--output-dir", "data/txt_input"}},
		{Kind: StageClean, Name: "clean", Command: "python3",
			Args: []string{"agent_stream.py"}},
		{Kind: StagePostProcess, Name: "postprocess", Command: "python3",
			Args: []string{"run_post_processing.py", "data/markdown/{stem}"}},
		{Kind: StageFormat, Name: "format", Command: "python3",
			Args: []string{"post_processing_formatting.py", "data/markdown/{stem}"}},
		{Kind: StageConvert, Name: "convert", Command: "python3",
			Args:     []string{"markdown_to_fvtt.py", "data/markdown/{stem}"},
			Artifact: "data/json/{stem}"},
	}
}
