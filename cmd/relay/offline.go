package main

import (
	"fmt"
	"strings"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/casualjim/relay/provider/providertest"
	"github.com/casualjim/relay/tool/builtin"
	"github.com/tidwall/gjson"
)

// offlineAdapter plays a model that computes arithmetic with the calculator
// tool and echoes everything else. It lets the host run without credentials.
func offlineAdapter(p messages.Provider) *providertest.Scripted {
	return providertest.NewFunc(p, offlineTurn)
}

func offlineTurn(_ int, req provider.Request) providertest.Turn {
	history := canonicalHistory(req)
	if len(history) == 0 {
		return providertest.Turn{Text: fragments("Hello! Ask me to calculate something.")}
	}

	last := history[len(history)-1]
	switch last.Role {
	case messages.RoleTool:
		var lines []string
		for i := len(history) - 1; i >= 0 && history[i].Role == messages.RoleTool; i-- {
			part, _ := history[i].ToolResultPart()
			lines = append([]string{describeResult(part)}, lines...)
		}
		return providertest.Turn{Text: fragments(strings.Join(lines, "\n"))}

	case messages.RoleUser:
		text := strings.TrimSpace(strings.TrimRight(last.Text(), "?= "))
		if isArithmetic(text) {
			return providertest.Turn{
				Text: fragments("Let me calculate that."),
				Invocations: []messages.ToolInvocation{{
					ID:    "offline_" + uuidx.NewString(),
					Name:  builtin.CalculatorName,
					Input: map[string]any{"expression": text},
				}},
			}
		}
		return providertest.Turn{Text: fragments(fmt.Sprintf("You said: %s", last.Text()))}
	}
	return providertest.Turn{Text: fragments("I have nothing to add.")}
}

func describeResult(part messages.ToolResultPart) string {
	doc := gjson.Parse(part.Content)
	switch {
	case doc.Get("formatted_result").Exists():
		return doc.Get("formatted_result").String()
	case doc.Get("error").Exists():
		return "The tool failed: " + doc.Get("error").String()
	case part.IsError:
		return "The tool failed: " + part.Content
	}
	return "The tool answered: " + part.Content
}

func canonicalHistory(req provider.Request) []messages.Message {
	switch {
	case req.Blocks != nil:
		return normalize.FromBlocks(req.Blocks.Messages)
	case req.Choices != nil:
		_, history := normalize.FromChoices(req.Choices.Messages)
		return history
	}
	return nil
}

func isArithmetic(text string) bool {
	if !strings.ContainsAny(text, "+-*/") {
		return false
	}
	_, err := builtin.Evaluate(text)
	return err == nil
}

// fragments splits text after each space, the way a model streams it.
func fragments(text string) []string {
	return strings.SplitAfter(text, " ")
}
