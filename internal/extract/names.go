package extract

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/labelmatch/internal/ner"
	"github.com/sells-group/labelmatch/internal/resilience"
	"github.com/sells-group/labelmatch/internal/textnorm"
)

// defaultStopwords are tokens that never belong to a recipient name:
// label boilerplate, carriers and service levels, street vocabulary, and
// place names seen on labels.
var defaultStopwords = []string{
	// label boilerplate and service levels
	"ship", "to", "from", "priority", "mail", "ground", "shipping", "express",
	"overnight", "standard", "lbs", "lb", "oz", "kg", "tracking", "attn",
	// carriers
	"fedex", "ups", "usps", "dhl",
	// countries
	"united", "states", "usa",
	// street vocabulary
	"blvd", "boulevard", "drive", "dr", "street", "st", "road", "rd", "avenue", "ave",
	"parkway", "pkwy", "lane", "ln", "court", "ct", "way", "place", "pl", "circle", "cir",
	"suite", "ste", "apt", "unit",
	// places
	"roseville", "ca",
}

var alphaRunRe = regexp.MustCompile(`[a-z]+`)

// WindowNames finds a name by sliding a two-token window over the text,
// skipping any pair that touches a stopword and extending to a third token
// when it is not a stopword. The last surviving candidate wins, because on
// the labels this was tuned on the recipient name trails the address block.
type WindowNames struct {
	stopwords map[string]struct{}
}

// NewWindowNames creates a WindowNames with the default stopwords plus extra.
func NewWindowNames(extra ...string) *WindowNames {
	sw := make(map[string]struct{}, len(defaultStopwords)+len(extra))
	for _, w := range defaultStopwords {
		sw[w] = struct{}{}
	}
	for _, w := range extra {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			sw[w] = struct{}{}
		}
	}
	return &WindowNames{stopwords: sw}
}

// IsStopword reports whether tok is in the stopword set.
func (w *WindowNames) IsStopword(tok string) bool {
	_, ok := w.stopwords[tok]
	return ok
}

// Candidates returns every surviving window in scan order, lowercased.
func (w *WindowNames) Candidates(text string) []string {
	words := alphaRunRe.FindAllString(textnorm.Fold(text), -1)
	if len(words) < 2 {
		return nil
	}

	var out []string
	for i := 0; i+1 < len(words); i++ {
		w1, w2 := words[i], words[i+1]
		if w.IsStopword(w1) || w.IsStopword(w2) {
			continue
		}
		if i+2 < len(words) && !w.IsStopword(words[i+2]) {
			out = append(out, w1+" "+w2+" "+words[i+2])
		} else {
			out = append(out, w1+" "+w2)
		}
	}
	return out
}

// ExtractName implements NameExtractor. It never fails.
func (w *WindowNames) ExtractName(_ context.Context, text string) (string, error) {
	cands := w.Candidates(text)
	if len(cands) == 0 {
		return "", nil
	}
	// Casers carry state; build one per call.
	return cases.Title(language.English).String(cands[len(cands)-1]), nil
}

// EntityNames asks a named-entity recognizer for the first person span.
// Recognizer failures are logged and reported as "no name" so the chain can
// fall through to a heuristic.
type EntityNames struct {
	rec ner.Recognizer
}

// NewEntityNames wraps a recognizer.
func NewEntityNames(rec ner.Recognizer) *EntityNames {
	return &EntityNames{rec: rec}
}

// ExtractName implements NameExtractor.
func (e *EntityNames) ExtractName(ctx context.Context, text string) (string, error) {
	spans, err := e.rec.Recognize(ctx, text)
	if err != nil {
		zap.L().Warn("extract: entity recognizer failed", zap.Error(err))
		return "", nil
	}
	name, ok := ner.FirstPerson(spans)
	if !ok {
		return "", nil
	}
	return strings.ToLower(name), nil
}

// GuardRecognizer routes recognizer calls through a circuit breaker so a
// down service is skipped without waiting for its timeout.
func GuardRecognizer(rec ner.Recognizer, cb *resilience.CircuitBreaker) ner.Recognizer {
	return ner.RecognizerFunc(func(ctx context.Context, text string) ([]ner.Span, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) ([]ner.Span, error) {
			return rec.Recognize(ctx, text)
		})
	})
}
