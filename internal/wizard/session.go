// Package wizard holds the server-side state of the import wizard:
// upload, field configuration, preview and result.
package wizard

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joeblew999/plat-webgis/internal/domain"
	"github.com/joeblew999/plat-webgis/internal/geo"
	"github.com/joeblew999/plat-webgis/internal/importer"
	"github.com/joeblew999/plat-webgis/internal/mapping"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// Step is a wizard state.
type Step string

const (
	StepUpload  Step = "upload"
	StepConfig  Step = "config"
	StepPreview Step = "preview"
	StepResult  Step = "result"
)

// PreviewSize is the number of transformed records shown before import.
const PreviewSize = 5

// Preview is what the user checks before confirming an import.
type Preview struct {
	Premises   []domain.Premise       `json:"locali,omitempty"`
	Activities []domain.Activity      `json:"attivita,omitempty"`
	Stats      *service.FilteredStats `json:"stats,omitempty"`
	Total      int                    `json:"total"`
	Located    int                    `json:"located"`
}

// Outcome is the result panel of the wizard.
type Outcome struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Count     int    `json:"count,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Retry     bool   `json:"retry,omitempty"`
}

// View is a snapshot of a session.
type View struct {
	ID        string              `json:"id"`
	Kind      mapping.Kind        `json:"kind"`
	ProjectID string              `json:"project_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Step      Step                `json:"step"`
	FileName  string              `json:"file_name,omitempty"`
	Fields    []string            `json:"fields,omitempty"`
	Mapping   domain.FieldMapping `json:"mapping,omitempty"`
	Preview   *Preview            `json:"preview,omitempty"`
	Result    *Outcome            `json:"result,omitempty"`
	Progress  *importer.Progress  `json:"progress,omitempty"`
	Busy      bool                `json:"busy"`
}

// Session is one wizard run. A session with no project creates one on
// import; otherwise it replaces the records of its project.
type Session struct {
	mu sync.Mutex

	id        string
	kind      mapping.Kind
	projectID string
	owner     string
	name      string
	saved     domain.FieldMapping

	step       Step
	fileName   string
	collection *geo.FeatureCollection
	fields     []string
	mapping    domain.FieldMapping
	preview    *Preview
	result     *Outcome
	progress   *importer.Progress
	busy       bool
	touched    time.Time
}

func (s *Session) ID() string { return s.id }

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) conflict(op string) error {
	return &domain.ErrConflict{Resource: "wizard", Message: fmt.Sprintf("cannot %s at step %s", op, s.step)}
}

// SetName sets the name of the project a creating session will create.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = strings.TrimSpace(name)
}

// Upload validates a GeoJSON file and moves to CONFIG. The mapping starts
// from the project's saved mapping; keys it lacks are auto-detected from
// the first feature.
func (s *Session) Upload(fileName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepUpload {
		return s.conflict("upload")
	}
	if !geo.AcceptedFile(fileName) {
		return &domain.ErrValidation{Field: "file", Message: "formato non supportato, usa un file .geojson o .json"}
	}
	fc, err := geo.Decode(data)
	if err != nil {
		return err
	}

	s.fileName = fileName
	s.collection = fc
	s.fields = fc.Keys()
	m := mapping.AutoMap(s.fields, mapping.AliasesFor(s.kind)).Merge(s.saved)
	if s.kind == mapping.KindPremises {
		m = mapping.WithDefaultTriggers(m)
	}
	s.mapping = m
	s.step = StepConfig
	return nil
}

// Configure replaces the draft mapping.
func (s *Session) Configure(m domain.FieldMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepConfig {
		return s.conflict("configure")
	}
	s.mapping = m.Clone()
	return nil
}

// Next moves CONFIG to PREVIEW. Premises need a mapped status field.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepConfig {
		return s.conflict("advance")
	}
	if s.kind == mapping.KindPremises {
		if _, ok := s.mapping.Source(mapping.KeyStatus); !ok {
			return &domain.ErrValidation{Field: mapping.KeyStatus, Message: "seleziona il campo che contiene lo stato"}
		}
	}
	s.preview = buildPreview(s.kind, s.collection, s.mapping)
	s.step = StepPreview
	return nil
}

func buildPreview(kind mapping.Kind, fc *geo.FeatureCollection, m domain.FieldMapping) *Preview {
	p := &Preview{Total: fc.Len()}
	if kind == mapping.KindActivities {
		all := mapping.Activities(fc, "", m)
		for _, a := range all {
			if a.Coordinates != nil {
				p.Located++
			}
		}
		p.Activities = all[:min(PreviewSize, len(all))]
		return p
	}
	all := mapping.Premises(fc, "", m)
	for _, r := range all {
		if r.Coordinates != nil {
			p.Located++
		}
	}
	stats := service.StatsFor(all)
	p.Stats = &stats
	p.Premises = all[:min(PreviewSize, len(all))]
	return p
}

// Back moves PREVIEW to CONFIG, or CONFIG to UPLOAD dropping the file.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.step {
	case StepPreview:
		s.preview = nil
		s.step = StepConfig
	case StepConfig:
		s.fileName = ""
		s.collection = nil
		s.fields = nil
		s.mapping = nil
		s.step = StepUpload
	default:
		return s.conflict("go back")
	}
	return nil
}

// job is what an import needs, captured under the session lock.
type job struct {
	kind       mapping.Kind
	projectID  string
	name       string
	owner      string
	collection *geo.FeatureCollection
	mapping    domain.FieldMapping
}

// begin moves to RESULT for an import from PREVIEW, or for a retry after
// a failed one.
func (s *Session) begin() (job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return job{}, domain.ErrImportInProgress
	}
	retry := s.step == StepResult && s.result != nil && !s.result.Success
	if s.step != StepPreview && !retry {
		return job{}, s.conflict("import")
	}
	s.step = StepResult
	s.result = nil
	s.progress = nil
	s.busy = true
	return job{
		kind:       s.kind,
		projectID:  s.projectID,
		name:       s.name,
		owner:      s.owner,
		collection: s.collection,
		mapping:    s.mapping.Clone(),
	}, nil
}

func (s *Session) finish(out *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.result = out
	if out.ProjectID != "" {
		s.projectID = out.ProjectID
	}
}

func (s *Session) report(p importer.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = &p
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:        s.id,
		Kind:      s.kind,
		ProjectID: s.projectID,
		Name:      s.name,
		Step:      s.step,
		FileName:  s.fileName,
		Fields:    slices.Clone(s.fields),
		Preview:   s.preview,
		Busy:      s.busy,
	}
	if s.result != nil {
		r := *s.result
		v.Result = &r
	}
	if s.progress != nil {
		p := *s.progress
		v.Progress = &p
	}
	if s.mapping != nil {
		v.Mapping = s.mapping.Clone()
	}
	return v
}
