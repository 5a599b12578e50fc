package interview

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-ai/nexus/pkg/models"
)

// DefaultConfidenceThreshold is the minimum confidence a requirement needs
// to survive extraction.
const DefaultConfidenceThreshold = 0.7

var (
	requirementPattern = regexp.MustCompile(`(?s)<requirement>(.*?)</requirement>`)
	fieldPatterns      = map[string]*regexp.Regexp{
		"text":       regexp.MustCompile(`(?s)<text>(.*?)</text>`),
		"category":   regexp.MustCompile(`(?s)<category>(.*?)</category>`),
		"priority":   regexp.MustCompile(`(?s)<priority>(.*?)</priority>`),
		"confidence": regexp.MustCompile(`(?s)<confidence>(.*?)</confidence>`),
		"area":       regexp.MustCompile(`(?s)<area>(.*?)</area>`),
	}
)

// categorySynonyms maps the spellings models tend to produce onto the
// canonical category values.
var categorySynonyms = map[string]models.RequirementCategory{
	"non_functional": models.CategoryNonFunctional,
	"nonfunctional":  models.CategoryNonFunctional,
	"non functional": models.CategoryNonFunctional,
	"tech":           models.CategoryTechnical,
	"limitation":     models.CategoryConstraint,
}

// ExtractionResult reports what Extract found. FilteredCount is how many
// blocks were dropped for low confidence or an unusable category.
type ExtractionResult struct {
	Requirements  []*models.Requirement
	RawCount      int
	FilteredCount int
}

// Extractor pulls structured requirements out of a model reply. Replies
// carry zero or more <requirement> blocks; everything outside them is
// conversational text and is ignored.
type Extractor struct {
	threshold float64
	now       func() time.Time
}

// NewExtractor creates an Extractor with the default confidence threshold.
func NewExtractor() *Extractor {
	return &Extractor{threshold: DefaultConfidenceThreshold, now: time.Now}
}

// SetThreshold overrides the confidence threshold. Values outside (0,1]
// are ignored.
func (e *Extractor) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		e.threshold = t
	}
}

// Extract parses reply for requirement blocks and keeps those with a known
// category and confidence at or above the threshold.
func (e *Extractor) Extract(reply, projectID string) *ExtractionResult {
	result := &ExtractionResult{}
	for _, match := range requirementPattern.FindAllStringSubmatch(reply, -1) {
		result.RawCount++
		req := e.parseBlock(match[1], projectID)
		if req == nil || req.Confidence < e.threshold {
			result.FilteredCount++
			continue
		}
		result.Requirements = append(result.Requirements, req)
	}
	return result
}

// parseBlock builds a requirement from one block's inner text. Returns nil
// when the block has no text or no recognizable category.
func (e *Extractor) parseBlock(block, projectID string) *models.Requirement {
	text := strings.TrimSpace(field(block, "text"))
	if text == "" {
		return nil
	}
	category, ok := parseCategory(field(block, "category"))
	if !ok {
		return nil
	}

	priority := models.RequirementPriority(normalize(field(block, "priority")))
	if priority == "won't" || priority == "wont" {
		priority = models.PriorityWont
	}
	if !priority.Valid() {
		priority = models.PriorityShould
	}

	confidence := 0.5
	if raw := strings.TrimSpace(field(block, "confidence")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}

	return &models.Requirement{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Category:   category,
		Text:       text,
		Priority:   priority,
		Confidence: confidence,
		Area:       normalize(field(block, "area")),
		Source:     "interview",
		CreatedAt:  e.now(),
	}
}

func parseCategory(raw string) (models.RequirementCategory, bool) {
	normalized := normalize(raw)
	if normalized == "" {
		return "", false
	}
	if mapped, ok := categorySynonyms[normalized]; ok {
		return mapped, true
	}
	category := models.RequirementCategory(normalized)
	return category, category.Valid()
}

func field(block, name string) string {
	if m := fieldPatterns[name].FindStringSubmatch(block); m != nil {
		return m[1]
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
