// Package estimate predicts task durations. The heuristic model is
// deliberately simple; accuracy comes from calibrating against actual
// durations reported back after execution.
package estimate

import (
	"strings"
	"sync"

	"github.com/nexus-ai/nexus/pkg/models"
)

// Category buckets tasks for historical calibration.
type Category string

const (
	CategoryTest           Category = "test"
	CategoryUI             Category = "ui"
	CategoryBackend        Category = "backend"
	CategoryInfrastructure Category = "infrastructure"
	CategoryGeneral        Category = "general"
)

// Config tunes the heuristic.
type Config struct {
	// BaseMinutes is the floor cost of any task.
	BaseMinutes float64
	// FileWeight is the per-file cost.
	FileWeight float64
	// ComplexityAdjustment is added for high-complexity tasks and
	// subtracted for low-complexity ones.
	ComplexityAdjustment float64
	// TestWeight is added when the task carries test criteria.
	TestWeight float64
	// MinMinutes and MaxMinutes clamp the final estimate.
	MinMinutes int
	MaxMinutes int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		BaseMinutes:          5,
		FileWeight:           3,
		ComplexityAdjustment: 8,
		TestWeight:           5,
		MinMinutes:           5,
		MaxMinutes:           models.MaxTaskMinutes,
	}
}

// maxSamplesPerCategory bounds the rolling calibration window.
const maxSamplesPerCategory = 100

// minSamplesForBlend is how many observations a category needs before
// history influences estimates.
const minSamplesForBlend = 5

// Keyword sets for complexity inference.
var (
	highComplexityKeywords = []string{
		"algorithm", "concurrency", "concurrent", "parallel", "security",
		"migration", "migrate", "refactor", "optimize", "performance",
		"distributed", "transaction", "encryption", "protocol",
	}
	lowComplexityKeywords = []string{
		"rename", "comment", "typo", "config", "constant", "readme",
		"documentation", "docs", "format", "whitespace", "logging",
	}
)

// categoryKeywords route tasks into calibration buckets. First match wins,
// checked in this order.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryTest, []string{"test", "spec", "coverage", "assert"}},
	{CategoryUI, []string{"ui", "frontend", "component", "css", "style", "layout", "render"}},
	{CategoryBackend, []string{"api", "endpoint", "database", "server", "handler", "service", "query"}},
	{CategoryInfrastructure, []string{"deploy", "docker", "ci", "pipeline", "build", "infra", "terraform"}},
}

// Estimator predicts minutes per task, blending a heuristic with
// historical actuals once enough samples exist.
type Estimator struct {
	cfg Config

	mu      sync.Mutex
	history map[Category][]float64
}

// New creates an estimator with the default tuning.
func New() *Estimator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an estimator with explicit tuning.
func NewWithConfig(cfg Config) *Estimator {
	if cfg.MinMinutes <= 0 {
		cfg.MinMinutes = 5
	}
	if cfg.MaxMinutes <= 0 {
		cfg.MaxMinutes = models.MaxTaskMinutes
	}
	return &Estimator{
		cfg:     cfg,
		history: make(map[Category][]float64),
	}
}

// Estimate predicts the task's duration in minutes, clamped to the
// configured bounds.
func (e *Estimator) Estimate(task *models.Task) int {
	estimate := e.heuristic(task)

	category := Categorize(task)
	e.mu.Lock()
	samples := e.history[category]
	if len(samples) >= minSamplesForBlend {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		historical := sum / float64(len(samples))
		estimate = (estimate + historical) / 2
	}
	e.mu.Unlock()

	return e.clamp(estimate)
}

// heuristic is the uncalibrated model.
func (e *Estimator) heuristic(task *models.Task) float64 {
	estimate := e.cfg.BaseMinutes
	estimate += e.cfg.FileWeight * float64(len(task.Files))

	switch Complexity(task) {
	case "high":
		estimate += e.cfg.ComplexityAdjustment
	case "low":
		estimate -= e.cfg.ComplexityAdjustment
	}

	if len(task.TestCriteria) > 0 {
		estimate += e.cfg.TestWeight
	}
	return estimate
}

func (e *Estimator) clamp(estimate float64) int {
	minutes := int(estimate + 0.5)
	if minutes < e.cfg.MinMinutes {
		return e.cfg.MinMinutes
	}
	if minutes > e.cfg.MaxMinutes {
		return e.cfg.MaxMinutes
	}
	return minutes
}

// Calibrate records how long the task actually took, feeding the rolling
// window for its category.
func (e *Estimator) Calibrate(task *models.Task, actualMinutes float64) {
	e.CalibrateCategory(Categorize(task), actualMinutes)
}

// CalibrateCategory records an actual duration straight into a
// category's rolling window. Replaying persisted episodes at startup
// goes through here.
func (e *Estimator) CalibrateCategory(category Category, actualMinutes float64) {
	if actualMinutes <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	samples := append(e.history[category], actualMinutes)
	if len(samples) > maxSamplesPerCategory {
		samples = samples[len(samples)-maxSamplesPerCategory:]
	}
	e.history[category] = samples
}

// SampleCount returns how many calibration samples a category holds.
func (e *Estimator) SampleCount(category Category) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[category])
}

// EstimateTotal sums member estimates. Parallelism is accounted for at
// wave scheduling, not here.
func (e *Estimator) EstimateTotal(tasks []*models.Task) int {
	total := 0
	for _, task := range tasks {
		if task.EstimatedMinutes > 0 {
			total += task.EstimatedMinutes
			continue
		}
		total += e.Estimate(task)
	}
	return total
}

// Complexity infers high, low, or normal from the task's text.
func Complexity(task *models.Task) string {
	text := strings.ToLower(task.Name + " " + task.Description)
	for _, kw := range highComplexityKeywords {
		if strings.Contains(text, kw) {
			return "high"
		}
	}
	for _, kw := range lowComplexityKeywords {
		if strings.Contains(text, kw) {
			return "low"
		}
	}
	return "normal"
}

// Categorize routes a task into its calibration bucket.
func Categorize(task *models.Task) Category {
	text := strings.ToLower(task.Name + " " + task.Description)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.words {
			if strings.Contains(text, kw) {
				return entry.category
			}
		}
	}
	return CategoryGeneral
}
