package pipeline

import "slices"

// ProjectStatus enumerates the project lifecycle states.
type ProjectStatus string

// Project states.
const (
	ProjectAnalyzing  ProjectStatus = "analyzing"
	ProjectReady      ProjectStatus = "ready"
	ProjectGenerating ProjectStatus = "generating"
	ProjectPublishing ProjectStatus = "publishing"
	ProjectActive     ProjectStatus = "active"
	ProjectPaused     ProjectStatus = "paused"
	ProjectFailed     ProjectStatus = "failed"
)

// KeywordStatus enumerates the keyword lifecycle states.
type KeywordStatus string

// Keyword states.
const (
	KeywordPending    KeywordStatus = "pending"
	KeywordGenerating KeywordStatus = "generating"
	KeywordGenerated  KeywordStatus = "generated"
	KeywordPublishing KeywordStatus = "publishing"
	KeywordPublished  KeywordStatus = "published"
	KeywordFailed     KeywordStatus = "failed"
)

// PageStatus enumerates the generated page lifecycle states.
type PageStatus string

// Page states.
const (
	PageDraft      PageStatus = "draft"
	PageReviewing  PageStatus = "reviewing"
	PageApproved   PageStatus = "approved"
	PagePublishing PageStatus = "publishing"
	PagePublished  PageStatus = "published"
	PageFailed     PageStatus = "failed"
)

// Entity kinds, used in errors, events, and metric labels.
const (
	EntityProject  = "project"
	EntityKeyword  = "keyword"
	EntityPage     = "page"
	EntityIndexing = "indexing"
)

// Machine is a closed transition table for one entity kind.
type Machine[S ~string] struct {
	entity string
	states []S
	edges  map[S][]S
	// failed is reachable from every state except itself.
	failed S
}

// Entity returns the entity kind the table governs.
func (m Machine[S]) Entity() string { return m.entity }

// Known reports whether s is one of the table's states.
func (m Machine[S]) Known(s S) bool {
	return slices.Contains(m.states, s)
}

// Allowed reports whether from -> to is a legal edge.
func (m Machine[S]) Allowed(from, to S) bool {
	if !m.Known(from) || !m.Known(to) || from == to {
		return false
	}
	if to == m.failed {
		return true
	}
	return slices.Contains(m.edges[from], to)
}

// Check returns a *TransitionError when from -> to is not a legal edge.
func (m Machine[S]) Check(id string, from, to S) error {
	if !m.Known(to) {
		return &TransitionError{Entity: m.entity, ID: id, From: string(from), To: string(to), Reason: "unknown state"}
	}
	if !m.Allowed(from, to) {
		return &TransitionError{Entity: m.entity, ID: id, From: string(from), To: string(to), Reason: "not reachable from current state"}
	}
	return nil
}

// ProjectMachine governs Project.Status.
var ProjectMachine = Machine[ProjectStatus]{
	entity: EntityProject,
	states: []ProjectStatus{
		ProjectAnalyzing, ProjectReady, ProjectGenerating, ProjectPublishing,
		ProjectActive, ProjectPaused, ProjectFailed,
	},
	edges: map[ProjectStatus][]ProjectStatus{
		ProjectAnalyzing:  {ProjectReady},
		ProjectReady:      {ProjectGenerating},
		ProjectGenerating: {ProjectPublishing},
		ProjectPublishing: {ProjectActive},
		ProjectActive:     {ProjectPaused},
		ProjectPaused:     {ProjectActive},
		ProjectFailed:     {ProjectAnalyzing},
	},
	failed: ProjectFailed,
}

// KeywordMachine governs Keyword.Status.
var KeywordMachine = Machine[KeywordStatus]{
	entity: EntityKeyword,
	states: []KeywordStatus{
		KeywordPending, KeywordGenerating, KeywordGenerated,
		KeywordPublishing, KeywordPublished, KeywordFailed,
	},
	edges: map[KeywordStatus][]KeywordStatus{
		KeywordPending:    {KeywordGenerating},
		KeywordGenerating: {KeywordGenerated},
		KeywordGenerated:  {KeywordPublishing, KeywordPublished},
		KeywordPublishing: {KeywordPublished},
	},
	failed: KeywordFailed,
}

// PageMachine governs GeneratedPage.Status.
var PageMachine = Machine[PageStatus]{
	entity: EntityPage,
	states: []PageStatus{
		PageDraft, PageReviewing, PageApproved, PagePublishing, PagePublished, PageFailed,
	},
	edges: map[PageStatus][]PageStatus{
		PageDraft:      {PageReviewing},
		PageReviewing:  {PageApproved},
		PageApproved:   {PagePublishing},
		PagePublishing: {PagePublished},
	},
	failed: PageFailed,
}

// KeywordWorkAllowed reports whether a project in s has produced the analysis that
// keyword work depends on.
func KeywordWorkAllowed(s ProjectStatus) bool {
	switch s {
	case ProjectReady, ProjectGenerating, ProjectPublishing, ProjectActive:
		return true
	default:
		return false
	}
}

// PageWorkAllowed reports whether a keyword in s has produced the content a page
// needs to leave draft.
func PageWorkAllowed(s KeywordStatus) bool {
	switch s {
	case KeywordGenerated, KeywordPublishing, KeywordPublished:
		return true
	default:
		return false
	}
}
