package turn

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/evrenesat/asky/internal/hooks"
	"github.com/evrenesat/asky/internal/llm"
	"github.com/evrenesat/asky/internal/store"
	"github.com/evrenesat/asky/internal/summarize"
	"github.com/evrenesat/asky/internal/usage"
)

const standardSystemPrompt = `You are asky, a concise assistant run from the command line.
Answer directly and keep formatting minimal: the output lands in a terminal.
When source material is provided in the conversation, ground your answer in
it and cite the source URLs you actually used.`

const researchSystemPrompt = `You are asky, a research assistant run from the command line.
Work evidence-first: consult the provided sources and the available tools
before answering, and cite the URL of every source a claim rests on. Prefer
primary sources over aggregators. When the evidence is thin or conflicting,
say so instead of guessing. Keep the final answer concise and structured for
a terminal.`

const localCorpusHint = `A local document corpus has been ingested for this turn. Address its
documents only through their corpus:// handles via the corpus tools; local
file paths are not accessible.`

// buildMessages assembles the full prompt for one turn: system message
// (with hook extensions and memory context), conversation context, and the
// annotated user query.
func (o *Orchestrator) buildMessages(ctx context.Context, req *TurnRequest, sess *store.Session, selectorIDs []int64, pre *PreloadResolution, query string, sumTracker *usage.Tracker) ([]llm.Message, error) {
	system := standardSystemPrompt
	if req.Research {
		system = researchSystemPrompt
	}
	if pre.CorpusPreloaded {
		system += "\n\n" + localCorpusHint
	}
	system = o.deps.Hooks.InvokeChain(ctx, hooks.SystemPromptExtend, system)
	if pre.MemoryContext != "" {
		system += "\n\n" + pre.MemoryContext
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	switch {
	case sess != nil:
		prior, err := o.sessionContext(ctx, sess)
		if err != nil {
			return nil, err
		}
		messages = append(messages, prior...)
	case len(selectorIDs) > 0:
		block, err := o.deps.Store.GetInteractionContext(ctx, selectorIDs, false, o.contextSummarizer(sumTracker))
		if err != nil {
			return nil, err
		}
		if block != "" {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "Context from previous interactions:\n\n" + block,
			})
		}
	}

	user := query
	if pre.CombinedContext != "" {
		user += "\n\n# Preloaded source material\n\n" + pre.CombinedContext
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
	return messages, nil
}

// sessionContext renders a session's log as model messages. When the
// session carries a compacted summary, rows it covers are replaced by one
// summary message.
func (o *Orchestrator) sessionContext(ctx context.Context, sess *store.Session) ([]llm.Message, error) {
	var (
		rows []store.StoredMessage
		err  error
	)
	if sess.CompactSummary != "" {
		rows, err = o.deps.Store.SessionMessagesAfter(ctx, sess.ID, sess.CompactUptoID)
	} else {
		rows, err = o.deps.Store.SessionMessages(ctx, sess.ID)
	}
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	if sess.CompactSummary != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "Summary of the conversation so far:\n" + sess.CompactSummary,
		})
	}
	for _, row := range rows {
		messages = append(messages, storedToMessage(row))
	}
	return messages, nil
}

func storedToMessage(row store.StoredMessage) llm.Message {
	msg := llm.Message{
		Role:       row.Role,
		Content:    row.Content,
		ToolCallID: row.ToolCallID,
	}
	if row.ToolCalls != "" {
		// Rows written by older builds may carry malformed JSON; a missing
		// tool-call list only costs the replay some fidelity.
		_ = json.Unmarshal([]byte(row.ToolCalls), &msg.ToolCalls)
	}
	return msg
}

// contextSummarizer adapts the turn's summarizer to the store's lazy
// back-fill callback. Nil when no summarizer is wired.
func (o *Orchestrator) contextSummarizer(tracker *usage.Tracker) store.SummarizeFunc {
	if o.deps.Summarizer == nil {
		return nil
	}
	return func(ctx context.Context, text string) (string, error) {
		return o.deps.Summarizer.Summarize(ctx, text, "", contextSummaryChars, summarize.Options{Tracker: tracker})
	}
}

const contextSummaryChars = 600

// stripTrigger removes a leading global-memory trigger phrase, case
// insensitively, and reports whether one matched.
func stripTrigger(query string, phrases []string) (string, bool) {
	lower := strings.ToLower(query)
	for _, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" || !strings.HasPrefix(lower, p) {
			continue
		}
		return strings.TrimSpace(query[len(p):]), true
	}
	return query, false
}
