package turn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/evrenesat/asky/internal/store"
)

// completionMarker separates the display label from the message id in
// shell-completion tokens ("fix the build__hid_42").
const completionMarker = "__hid_"

// parseSelectors turns a comma-separated selector string into message ids.
// Three forms are accepted: a plain integer id, a relative selector `~N`
// (N-th most recent interaction, 1-based), and a completion token carrying
// the id after the marker. Anything else is a user error naming the token.
func parseSelectors(ctx context.Context, st *store.Store, raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var recent []store.Interaction
	var ids []int64
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		switch {
		case strings.HasPrefix(token, "~"):
			n, err := strconv.Atoi(token[1:])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid history selector %q: expected ~N with N >= 1", token)
			}
			if n > len(recent) {
				recent, err = st.GetHistory(ctx, n)
				if err != nil {
					return nil, fmt.Errorf("resolving selector %q: %w", token, err)
				}
			}
			if n > len(recent) {
				return nil, fmt.Errorf("invalid history selector %q: only %d interactions exist", token, len(recent))
			}
			ids = append(ids, interactionID(recent[n-1]))

		case strings.Contains(token, completionMarker):
			idx := strings.LastIndex(token, completionMarker)
			id, err := strconv.ParseInt(token[idx+len(completionMarker):], 10, 64)
			if err != nil || id < 1 {
				return nil, fmt.Errorf("invalid history selector %q: malformed completion token", token)
			}
			ids = append(ids, id)

		default:
			id, err := strconv.ParseInt(token, 10, 64)
			if err != nil || id < 1 {
				return nil, fmt.Errorf("invalid history selector %q: expected a message id, ~N, or a completion token", token)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// interactionID prefers the assistant row; pairs missing one half fall back
// to the other.
func interactionID(in store.Interaction) int64 {
	if in.AssistantID != 0 {
		return in.AssistantID
	}
	return in.UserID
}
