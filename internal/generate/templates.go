package generate

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/funnelai/funnel-core/internal/model"
)

// pools holds alternative copy per content type. "{topic}" is replaced with
// the trimmed prompt.
var pools = map[model.ContentType][]string{
	model.ContentHeadline: {
		"The {topic} Playbook Nobody Talks About",
		"{topic}: What Top Performers Do Differently",
		"Stop Guessing. Start Winning at {topic}",
	},
	model.ContentSubheadline: {
		"A step-by-step path to results with {topic}, even if you are starting from scratch",
		"Everything you need to get {topic} working for you in weeks, not years",
	},
	model.ContentCTA: {
		"Claim Your Spot",
		"Show Me How",
		"Get Instant Access",
	},
	model.ContentDescription: {
		"Built around {topic}, this program gives you a clear plan, practical tools and ongoing support.",
		"A focused system for {topic} that cuts through the noise and delivers measurable progress.",
	},
	model.ContentEmail: {
		"Hi there,\n\nThanks for your interest in {topic}. Over the next few days I'll send you the exact steps we use with our clients.\n\nTalk soon,\n[Your Name]",
	},
	model.ContentAd: {
		"Still struggling with {topic}? There is a simpler way -> [Link]",
		"{topic} made simple. See how thousands already did it -> [Link]",
	},
}

// Templates picks a random variant from a per-type pool. Output differs between
// calls; seed the source for reproducible runs.
type Templates struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTemplates builds a Templates generator drawing from src.
func NewTemplates(src rand.Source) *Templates {
	return &Templates{rnd: rand.New(src)}
}

// Generate implements Generator.
func (t *Templates) Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pool := pools[ct]
	if len(pool) == 0 {
		return fallback(ct, prompt), nil
	}
	t.mu.Lock()
	i := t.rnd.IntN(len(pool))
	t.mu.Unlock()

	topic := strings.TrimSpace(prompt)
	if topic == "" {
		topic = "Your Goal"
	}
	return strings.ReplaceAll(pool[i], "{topic}", topic), nil
}
