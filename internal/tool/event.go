package tool

// Kind tags what an Event carries, mirroring the result-event taxonomy of
// spec.md §3: Result/Retrieval/Text are displayable payloads, the rest are
// non-displayable Update signals.
type Kind string

const (
	KindResult         Kind = "result"
	KindRetrieval      Kind = "retrieval"
	KindText           Kind = "text"
	KindStatus         Kind = "status"
	KindWarning        Kind = "warning"
	KindCompleted      Kind = "completed"
	KindTreeUpdate     Kind = "tree_update"
	KindTrainingUpdate Kind = "training_update"
	KindFewShot        Kind = "fewshot_examples"
	KindError          Kind = "error"
)

// TextObject is one entry of a Text event's Objects: a span of assistant
// text with the reference IDs it cites, if any.
type TextObject struct {
	Text   string
	RefIDs []string
}

// Event is the single, uniform type every Tool.Invoke yields. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	// Tool names the tool that produced this event; Node.Decide/runRuleTools
	// stamp it automatically so callers never set it by hand.
	Tool string

	// Result / Retrieval
	Name        string
	Metadata    map[string]any
	Objects     []map[string]any
	Mapping     map[string]string
	PayloadType string
	Impossible  bool

	// TreeUpdate
	TreeIndex int
	Reset     bool

	// Text
	Title       string
	TextObjects []TextObject

	// Status / Warning / Error
	Message string

	// Error
	Feedback string // non-empty classifies the error as avoidable, not unknown

	// TrainingUpdate
	Training map[string]any

	// FewShotExamples
	ExampleUUIDs []string
}

// ResultEvent builds a KindResult event, or the zero Event with ok=false if
// objects is empty (P8: an empty Result never produces a displayable
// payload or an environment entry).
func ResultEvent(name string, objects []map[string]any, metadata map[string]any) (Event, bool) {
	if len(objects) == 0 {
		return Event{}, false
	}
	return Event{Kind: KindResult, Name: name, Objects: objects, Metadata: metadata, PayloadType: "result"}, true
}

// TextEvent builds a KindText event carrying a single span of text.
func TextEvent(text string, refIDs ...string) Event {
	return Event{Kind: KindText, TextObjects: []TextObject{{Text: text, RefIDs: refIDs}}}
}

// StatusEvent builds a KindStatus event.
func StatusEvent(message string) Event {
	return Event{Kind: KindStatus, Message: message}
}

// WarningEvent builds a KindWarning event.
func WarningEvent(message string) Event {
	return Event{Kind: KindWarning, Message: message}
}

// ErrorEvent builds a KindError event; feedback, if non-empty, classifies
// the failure as avoidable rather than unknown (§7 ToolInvocationError).
func ErrorEvent(toolName, message, feedback string) Event {
	return Event{Kind: KindError, Name: toolName, Message: message, Feedback: feedback}
}
