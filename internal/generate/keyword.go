package generate

import (
	"context"
	"strings"

	"github.com/funnelai/funnel-core/internal/model"
)

type rule struct {
	any  []string
	text string
}

// keywordTable maps each content type to ordered rules. The first rule with a
// keyword found in the lowercased prompt wins; otherwise def is used.
var keywordTable = map[model.ContentType]struct {
	rules []rule
	def   string
}{
	model.ContentHeadline: {
		rules: []rule{
			{[]string{"fitness", "health"}, "Transform Your Body in 30 Days: The Science-Backed Method That Actually Works"},
			{[]string{"business", "entrepreneur"}, "From $0 to $100K: The Entrepreneur's Blueprint for Rapid Growth"},
			{[]string{"marketing", "funnel"}, "Double Your Conversions with This Simple Marketing Strategy"},
			{[]string{"course", "education"}, "Master Any Skill 10x Faster with This Revolutionary Learning System"},
		},
		def: "Unlock Your True Potential: The System That Changes Everything",
	},
	model.ContentSubheadline: {
		rules: []rule{
			{[]string{"fitness"}, "Join 50,000+ people who've already transformed their bodies using our proven system - no gym required, results guaranteed in 30 days or your money back"},
			{[]string{"business"}, "The exact step-by-step system used by 10,000+ entrepreneurs to build profitable businesses from scratch - even if you're starting with $0"},
			{[]string{"marketing"}, "Discover the conversion optimization secrets that helped our clients generate over $50M in additional revenue last year alone"},
		},
		def: "The proven method that's helped thousands achieve extraordinary results - backed by real data and success stories",
	},
	model.ContentCTA: {
		rules: []rule{
			{[]string{"free", "trial"}, "Start Your Free Trial"},
			{[]string{"download", "guide"}, "Get Instant Access"},
			{[]string{"course", "training"}, "Enroll Now"},
			{[]string{"consultation", "call"}, "Book Your Call"},
		},
		def: "Get Started Today",
	},
	model.ContentDescription: {
		def: "This comprehensive solution addresses your specific needs with proven strategies that deliver real results. " +
			"Our approach combines cutting-edge techniques with time-tested methods to ensure your success.",
	},
	model.ContentEmail: {
		def: `Welcome to the inner circle!

I'm thrilled you've decided to join thousands of others on this incredible journey.

Here's what happens next:

- Check your email for your welcome package (it should arrive within 5 minutes)
- Join our private community where you'll get daily tips and support
- Watch for tomorrow's email with your first action step

Quick question: What's your biggest challenge right now? Hit reply and let me know - I read every email personally.

To your success,
[Your Name]

P.S. Make sure to add us to your contacts so you don't miss any important updates!`,
	},
	model.ContentAd: {
		rules: []rule{
			{[]string{"fitness"}, `This 30-day transformation will shock you

No gym. No restrictive diets. No BS.

Just a simple system that's helped 50,000+ people get the body they've always wanted.

See the incredible before/after photos -> [Link]`},
			{[]string{"business"}, `From broke to $100K in 12 months

This entrepreneur was working 80-hour weeks for peanuts.

Then she discovered this simple system...

Now she's making $100K/year working 20 hours/week.

See how she did it -> [Link]`},
		},
		def: `This changes everything

What if I told you there's a simple system that could transform your life in just 30 days?

Thousands have already used it to achieve incredible results.

Your turn -> [Link]`,
	},
}

// Keyword picks canned copy by case-insensitive substring match on the prompt.
// The same input always yields the same output.
type Keyword struct{}

// Generate implements Generator.
func (Keyword) Generate(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry, ok := keywordTable[ct]
	if !ok {
		return fallback(ct, prompt), nil
	}
	p := strings.ToLower(prompt)
	for _, r := range entry.rules {
		for _, kw := range r.any {
			if strings.Contains(p, kw) {
				return r.text, nil
			}
		}
	}
	return entry.def, nil
}
