package grammar

import (
	"slices"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single pattern scan. Transcripts are length-capped
// before detection; the timeout is a second line against pathological input.
const matchTimeout = 100 * time.Millisecond

// Match is one pattern hit handed to a rule's correction function.
type Match struct {
	// Text is the full matched substring of the original transcript.
	Text string

	// Groups holds the capture groups; Groups[0] equals Text. Optional groups
	// that did not participate are empty strings.
	Groups []string
}

// Rule pairs a pattern with a pure correction function and the coaching
// metadata shown to the learner.
type Rule struct {
	// Name identifies the rule in logs.
	Name string

	// Type classifies every mistake reported by this rule. Severity is
	// derived from it via [SeverityOf].
	Type ErrorType

	// Pattern is matched case-insensitively against the original transcript.
	Pattern *regexp2.Regexp

	// Correct returns the replacement text for m. A replacement equal to
	// m.Text (ignoring case) means "no mistake here".
	Correct func(m Match) string

	// Explanation is a one-sentence rule reminder.
	Explanation string

	// Exceptions lists the well-known exceptions to the rule.
	Exceptions []string
}

// Table is an ordered list of rules. Rules are tried in order.
type Table []Rule

// RuleInfo is the serialisable description of a rule.
type RuleInfo struct {
	Name        string    `json:"name"`
	Type        ErrorType `json:"type"`
	Severity    Severity  `json:"severity"`
	Pattern     string    `json:"pattern"`
	Explanation string    `json:"explanation"`
	Exceptions  []string  `json:"exceptions,omitempty"`
}

// Catalogue describes every rule in t, in table order.
func (t Table) Catalogue() []RuleInfo {
	out := make([]RuleInfo, 0, len(t))
	for _, r := range t {
		out = append(out, RuleInfo{
			Name:        r.Name,
			Type:        r.Type,
			Severity:    SeverityOf(r.Type),
			Pattern:     r.Pattern.String(),
			Explanation: r.Explanation,
			Exceptions:  slices.Clone(r.Exceptions),
		})
	}
	return out
}

// Default returns the built-in rule table.
func Default() Table {
	return slices.Clone(defaultTable)
}

func newRule(name string, typ ErrorType, pattern string, correct func(Match) string, explanation string, exceptions ...string) Rule {
	re := regexp2.MustCompile(pattern, regexp2.IgnoreCase)
	re.MatchTimeout = matchTimeout
	return Rule{
		Name:        name,
		Type:        typ,
		Pattern:     re,
		Correct:     correct,
		Explanation: explanation,
		Exceptions:  exceptions,
	}
}

// keepFirst collapses a repeated word to its first occurrence.
func keepFirst(m Match) string { return m.Groups[1] }

// respell replaces a misspelt word with right, keeping its capitalisation.
func respell(right map[string]string) func(Match) string {
	return func(m Match) string {
		fixed, ok := right[strings.ToLower(m.Text)]
		if !ok {
			return m.Text
		}
		return matchCase(m.Text, fixed)
	}
}

var defaultTable = Table{
	newRule("third-person-s", SubjectVerbAgreement,
		`(?<!\b(?:does|did|do|can|could|will|would|should|shall|may|might|must|let|lets|make|makes|made|help|helps|helped|to|see|saw|watch|hear|heard)\s+)`+
			`\b(he|she|it)\s+(go|have|do|say|want|like|need|work|live|play|know|think|make|take|come|get)\b`,
		func(m Match) string {
			return m.Groups[1] + " " + matchCase(m.Groups[2], thirdPerson(m.Groups[2]))
		},
		"With he, she and it, present simple verbs take -s or -es.",
		"Modal verbs (can, must, should) never take -s.",
		"After does, did or a modal the verb stays in its base form: does he go.",
	),
	newRule("no-s-after-plural-subject", SubjectVerbAgreement,
		`\b(I|you|we|they)\s+(goes|has|does|says|wants|likes|needs|works|lives|plays|knows|thinks|makes|takes|comes|gets)\b`,
		func(m Match) string {
			return m.Groups[1] + " " + matchCase(m.Groups[2], baseFromThirdPerson(m.Groups[2]))
		},
		"With I, you, we and they, present simple verbs take no -s.",
		`"Have" stays "have" for I, you, we and they.`,
	),
	newRule("a-before-vowel", Article,
		`\b(a)\s+(?!(?:uni|use|usu|uti|uku|ukr|uran|eu|one|once))([aeiou]\w+)\b`,
		func(m Match) string { return matchCase(m.Groups[1], "an") + " " + m.Groups[2] },
		`Use "an" before a word that starts with a vowel sound.`,
		`Words starting with a "you" sound take "a": a university, a European.`,
		`Words starting with a "w" sound take "a": a one-way ticket.`,
	),
	newRule("an-before-consonant", Article,
		`\b(an)\s+(?!(?:hour|honest|honou?r|heir|herb))(?!(?-i:[A-Z]{2,}))([bcdfghjklmnpqrstvwxyz]\w+)\b`,
		func(m Match) string { return matchCase(m.Groups[1], "a") + " " + m.Groups[2] },
		`Use "a" before a word that starts with a consonant sound.`,
		`A silent "h" takes "an": an hour, an honest person.`,
		`Acronyms read letter by letter follow their first sound: an MBA.`,
	),
	newRule("much-with-countable", Quantifier,
		`\b(much)\s+(people|things|cars|books|friends|questions|problems|ideas|students|hours|days|years|times|mistakes)\b`,
		func(m Match) string { return matchCase(m.Groups[1], "many") + " " + m.Groups[2] },
		`Use "many" with countable plural nouns.`,
		`"Much" goes with uncountable nouns: much water, much time.`,
	),
	newRule("many-with-uncountable", Quantifier,
		`\b(many)\s+(water|money|information|time|advice|furniture|homework|luggage|knowledge|news|traffic|music|bread)\b`,
		func(m Match) string { return matchCase(m.Groups[1], "much") + " " + m.Groups[2] },
		`Use "much" with uncountable nouns.`,
		`"Many" goes with countable plurals: many people, many books.`,
	),
	newRule("past-after-didnt", DoubleNegative,
		`\b(didn['’]t|did\s+not)\s+(went|had|was|were|did|saw|came|made|took|got|said|ate|bought|wrote|gave|knew|thought|told|found|left)\b`,
		func(m Match) string {
			return m.Groups[1] + " " + matchCase(m.Groups[2], baseFromPast(m.Groups[2]))
		},
		`After "didn't" the verb goes back to its base form; the past is already marked.`,
		`"Didn't have to" and "didn't use to" follow the same rule.`,
	),
	newRule("repeated-word", WordRepetition,
		`\b(?!(?:the|a|an|to|for|with|at|in|on|and|or|but|that|had|is|very|so|no|yes|bye|ha|really|me|him|us|them)\b)(\w+)\s+\1\b`,
		keepFirst,
		"The same word was repeated. Say it once.",
		`Some doubles are correct: "that that" and "had had".`,
	),
	newRule("repeated-pronoun", PronounRepetition,
		`\b(me|him|us|them)\s+(with|to|for|and|at|from)\s+\1\b`,
		func(m Match) string { return m.Groups[1] + " " + m.Groups[2] },
		"The same pronoun appears twice around a preposition. Say it once.",
	),
	newRule("project-spelling", Spelling,
		`\b(projek|projec|projeckt)\b`,
		func(m Match) string { return matchCase(m.Text, "project") },
		`The correct spelling is "project".`,
	),
	newRule("verb-with-pronoun-order", PrepositionError,
		`\b(provide|give|send|show)\s+with\s+(me|you|him|her|us|them|it)\b`,
		func(m Match) string { return m.Groups[1] + " " + m.Groups[2] },
		`Put the person first: "provide me" or "provide me with something", not "provide with me".`,
	),
	newRule("with-repeats-pronoun", RedundantPreposition,
		`\b(provide|give|send|show)\s+(me|you|him|her|us|them|it)\s+with\s+\2\b`,
		func(m Match) string { return m.Groups[1] + " " + m.Groups[2] },
		`The pronoun after "with" repeats the person. Just say "provide me" or "give me".`,
	),
	newRule("and-instead-of-with", MissingPreposition,
		`\b(provide|give|send|show)\s+(me|you|him|her|us|them)\s+and\s+(?!(?:me|you|him|her|us|them|it|i|we|they|he|she)\b)(\w+)`,
		func(m Match) string { return m.Groups[1] + " " + m.Groups[2] + " with " + m.Groups[3] },
		`"With" is missing after the person: "provide me with a date", not "provide me and a date".`,
	),
	newRule("the-before-work-noun", MissingArticle,
		`\b(on|about|for)\s+(project|task|meeting|call)\s+(progress|update|status|report|information|details)\b`,
		func(m Match) string { return m.Groups[1] + " the " + m.Groups[2] + " " + m.Groups[3] },
		`A specific project or task needs "the": "on the project progress".`,
	),
	newRule("repeated-preposition", PrepositionRepetition,
		`\b(to|for|with|at|in|on)\s+\1\b`,
		keepFirst,
		"The same preposition was repeated. Say it once.",
	),
	newRule("repeated-conjunction", ConjunctionRepetition,
		`\b(and|or|but)\s+\1\b`,
		keepFirst,
		"The same conjunction was repeated. Use it once.",
	),
	newRule("repeated-article", ArticleRepetition,
		`\b(the|a|an)\s+\1\b`,
		keepFirst,
		"The same article was repeated. Use it once.",
	),
	newRule("receive-spelling", Spelling,
		`\b(recieve|recieved|recieving|reciept)\b`,
		respell(map[string]string{
			"recieve":   "receive",
			"recieved":  "received",
			"recieving": "receiving",
			"reciept":   "receipt",
		}),
		`The correct spelling is "receive": i before e, except after c.`,
	),
	newRule("separate-spelling", Spelling,
		`\b(seperate|seperated|seperating|seperately)\b`,
		respell(map[string]string{
			"seperate":   "separate",
			"seperated":  "separated",
			"seperating": "separating",
			"seperately": "separately",
		}),
		`The correct spelling is "separate", with an a in the middle.`,
	),
	newRule("definitely-spelling", Spelling,
		`\b(definately|definetly|definatly)\b`,
		func(m Match) string { return matchCase(m.Text, "definitely") },
		`The correct spelling is "definitely".`,
	),
	newRule("accommodate-spelling", Spelling,
		`\b(accomodate|accomodated|accomodation)\b`,
		respell(map[string]string{
			"accomodate":   "accommodate",
			"accomodated":  "accommodated",
			"accomodation": "accommodation",
		}),
		`The correct spelling is "accommodate", with a double c and a double m.`,
	),
}
