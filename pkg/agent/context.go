package agent

// TurnContext is the immutable snapshot of everything known at the start of
// a turn. Stages read it; updated state flows back through TurnResult
// rather than in-place mutation.
type TurnContext struct {
	CurrentTime    string
	User           map[string]interface{}
	DisplayName    string
	InputText      string
	Identity       int64
	GlobalMemory   string
	MemoryKey      string
	RecentMessages string

	// RetrievedContext is filled by the retrieval stage before dispatch
	// and judging see the context.
	RetrievedContext map[string]string
}

// SystemContext renders the snapshot as the background JSON payload handed
// to the model.
func (t *TurnContext) SystemContext() map[string]interface{} {
	retrieved := map[string]interface{}{}
	for title, text := range t.RetrievedContext {
		retrieved[title] = text
	}
	return map[string]interface{}{
		"current_time":      t.CurrentTime,
		"user":              t.User,
		"discord_username":  t.DisplayName,
		"input_text":        t.InputText,
		"discord_id":        t.Identity,
		"global_memory":     t.GlobalMemory,
		"recent_messages":   t.RecentMessages,
		"retrieved_context": retrieved,
	}
}

// TurnResult is the deltas a finished turn produced. Empty Summary or
// GlobalMemory means "no change"; ProfileUpdates may be nil.
type TurnResult struct {
	TurnID         string
	Reply          string
	Summary        string
	ProfileUpdates map[string]interface{}
	GlobalMemory   string
}
