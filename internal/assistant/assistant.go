// Package assistant produces the text answers behind the priced actions.
package assistant

import (
	"atlas_trader/internal/metrics"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind names the priced action a prompt belongs to
type Kind string

const (
	KindChat     Kind = "chat"
	KindAnalysis Kind = "analysis"
	KindProposal Kind = "proposal"
)

// ErrEmptyAnswer is returned when the backend answered with no text
var ErrEmptyAnswer = errors.New("empty answer")

// Prompt is one generation request
type Prompt struct {
	Kind Kind
	Text string
}

// Generator turns a prompt into text
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// Assistant bounds and instruments a Generator
type Assistant struct {
	gen     Generator
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logrus.Logger
}

// New wraps gen; each call is cut off after timeout
func New(gen Generator, timeout time.Duration, m *metrics.Metrics, log *logrus.Logger) *Assistant {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Assistant{gen: gen, timeout: timeout, metrics: m, log: log}
}

// Answer generates text for p. Callers show Apology when it fails.
func (a *Assistant) Answer(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	text, err := a.gen.Generate(ctx, p)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyAnswer
	}
	if err != nil {
		a.metrics.Generations.WithLabelValues(a.gen.Name(), "error").Inc()
		a.log.WithFields(logrus.Fields{
			"backend": a.gen.Name(),
			"kind":    p.Kind,
			"error":   err.Error(),
		}).Error("Generation failed")
		return "", err
	}
	a.metrics.Generations.WithLabelValues(a.gen.Name(), "ok").Inc()
	a.log.WithFields(logrus.Fields{
		"backend":  a.gen.Name(),
		"kind":     p.Kind,
		"duration": time.Since(start).String(),
	}).Debug("Generation done")
	return strings.TrimSpace(text), nil
}
