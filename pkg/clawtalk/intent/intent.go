// Package intent classifies free-text message/prompt content into the
// lexicon of intents shared by RoutingResolver, JobScheduler, and
// ToolAffinityStore.
package intent

import "regexp"

// Intent is a lexicon-derived category of a message.
type Intent string

const (
	Study          Intent = "study"
	StateTracking  Intent = "state_tracking"
	GoogleDocs     Intent = "google_docs"
	WebResearch    Intent = "web_research"
	CodeExecution  Intent = "code_execution"
	FileOps        Intent = "file_ops"
	Automation     Intent = "automation"
	ModelMeta      Intent = "model_meta"
	Conversation   Intent = "conversation"
	Other          Intent = "other"
)

// Cold is the set of intents the affinity phase machine treats as
// cold-start eligible regardless of observation count (spec.md §4.8).
var Cold = map[Intent]bool{
	Study:         true,
	StateTracking: true,
	Conversation:  true,
	ModelMeta:     true,
}

var (
	timeQuantityPattern = regexp.MustCompile(`(?i)\b\d+\s*(h|hrs?|hours?|m|mins?|minutes?)\b`)
	studyKeywordPattern = regexp.MustCompile(`(?i)\b(study|studied|studying|homework|revise|revision|flashcards?)\b`)
	adviceKeywordPattern = regexp.MustCompile(`(?i)\b(help me|advice|should i|what do you think|recommend|suggest)\b`)
	stateKeywordPattern  = regexp.MustCompile(`(?i)\b(remember|recall|track|log this|state of|status of)\b`)
	docsKeywordPattern   = regexp.MustCompile(`(?i)\b(google docs?|doc link|shared document)\b`)
	webKeywordPattern    = regexp.MustCompile(`(?i)\b(search the web|look up|google it|find online)\b`)
	codeKeywordPattern   = regexp.MustCompile(`(?i)\b(run this code|execute|bash|python script|npm run)\b`)
	fileKeywordPattern   = regexp.MustCompile(`(?i)\b(read file|write file|edit file|open file|list files)\b`)
	automationKeywordPattern = regexp.MustCompile(`(?i)\b(automate|schedule|cron|every (day|hour|week)|reminder)\b`)
	modelMetaKeywordPattern  = regexp.MustCompile(`(?i)\b(which model|what model|are you gpt|are you claude|your capabilities)\b`)
)

// IsStudy reports whether text matches the study-intent grammar: a
// time-quantity phrase AND a study keyword (spec.md §4.2).
func IsStudy(text string) bool {
	return timeQuantityPattern.MatchString(text) && studyKeywordPattern.MatchString(text)
}

// IsAdvice reports whether text matches help-request phrasing.
func IsAdvice(text string) bool {
	return adviceKeywordPattern.MatchString(text)
}

// Classify derives an Intent from free text, defaulting to Other.
func Classify(text string) Intent {
	switch {
	case IsStudy(text):
		return Study
	case stateKeywordPattern.MatchString(text):
		return StateTracking
	case docsKeywordPattern.MatchString(text):
		return GoogleDocs
	case webKeywordPattern.MatchString(text):
		return WebResearch
	case codeKeywordPattern.MatchString(text):
		return CodeExecution
	case fileKeywordPattern.MatchString(text):
		return FileOps
	case automationKeywordPattern.MatchString(text):
		return Automation
	case modelMetaKeywordPattern.MatchString(text):
		return ModelMeta
	case IsAdvice(text):
		return Conversation
	default:
		return Other
	}
}
