package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Action names accepted in a model's reply. "hold" is a valid answer; an
// empty decision list is not an error.
const (
	ActionBuyToEnter    = "buy_to_enter"
	ActionSellToEnter   = "sell_to_enter"
	ActionClosePosition = "close_position"
	ActionStopLoss      = "stop_loss"
	ActionTakeProfit    = "take_profit"
	ActionHold          = "hold"
)

// Decision is one parsed instruction from a completion.
type Decision struct {
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Leverage  int     `json:"leverage"`
	Reasoning string  `json:"reasoning"`
}

// ParseError reports an unusable completion; Fragment carries the offending
// text for the conversation log.
type ParseError struct {
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable completion: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes the ```json fence models often wrap JSON in.
func stripMarkdownCodeBlock(response string) string {
	trimmed := strings.TrimSpace(response)
	if m := codeBlockRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

func validAction(a string) bool {
	switch a {
	case ActionBuyToEnter, ActionSellToEnter, ActionClosePosition,
		ActionStopLoss, ActionTakeProfit, ActionHold:
		return true
	}
	return false
}

// ParseDecisions extracts the decision list from a completion. Accepted
// shapes: a bare JSON array of decisions, or an object with a "decisions"
// key. A decision with an unknown action fails the whole parse so a garbled
// reply never half-applies.
func ParseDecisions(response string) ([]Decision, error) {
	clean := stripMarkdownCodeBlock(response)
	fragment := clean
	if len(fragment) > 512 {
		fragment = fragment[:512]
	}

	var decisions []Decision
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &decisions); err != nil {
			return nil, &ParseError{Fragment: fragment, Err: err}
		}
	} else {
		var wrapped struct {
			Decisions []Decision `json:"decisions"`
		}
		if err := json.Unmarshal([]byte(clean), &wrapped); err != nil {
			return nil, &ParseError{Fragment: fragment, Err: err}
		}
		decisions = wrapped.Decisions
	}

	for i, d := range decisions {
		action := strings.ToLower(strings.TrimSpace(d.Action))
		if !validAction(action) {
			return nil, &ParseError{
				Fragment: fragment,
				Err:      fmt.Errorf("decision %d: unknown action %q", i, d.Action),
			}
		}
		decisions[i].Action = action
		decisions[i].Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
	}
	return decisions, nil
}
