package provider

import (
	"fmt"

	"github.com/casualjim/relay/messages"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

var (
	turnStartedJSON       = []byte(`{"type":"turn_started"}`)
	textFragmentJSON      = []byte(`{"type":"text_fragment"}`)
	toolOpenedJSON        = []byte(`{"type":"tool_opened"}`)
	toolInputFragmentJSON = []byte(`{"type":"tool_input_fragment"}`)
	toolClosedJSON        = []byte(`{"type":"tool_closed"}`)
	turnFinishedJSON      = []byte(`{"type":"turn_finished"}`)
	finalResponseJSON     = []byte(`{"type":"final_response"}`)
	errorJSON             = []byte(`{"type":"error"}`)
)

// StreamEvent is an event emitted by an Adapter while a turn is in flight.
type StreamEvent interface {
	streamEvent()
}

// TurnStarted is the first event of a successful turn.
type TurnStarted struct {
	Provider messages.Provider
	Model    string
	ID       string
}

func (TurnStarted) streamEvent() {}

// TextFragment is a piece of assistant text.
type TextFragment struct {
	Text string
}

func (TextFragment) streamEvent() {}

// ToolOpened announces a tool invocation. Its input follows as fragments.
type ToolOpened struct {
	ID   string
	Name string
}

func (ToolOpened) streamEvent() {}

// ToolInputFragment is a verbatim piece of the JSON input of invocation ID.
type ToolInputFragment struct {
	ID       string
	Fragment string
}

func (ToolInputFragment) streamEvent() {}

// ToolClosed marks the end of the input of invocation ID.
type ToolClosed struct {
	ID string
}

func (ToolClosed) streamEvent() {}

// TurnFinished carries the stop reason and token usage of the turn.
type TurnFinished struct {
	StopReason messages.StopReason
	Usage      messages.Usage
}

func (TurnFinished) streamEvent() {}

// FinalResponse is the reconciled answer of the turn, emitted last.
type FinalResponse struct {
	Raw      RawResponse
	Response messages.Response
}

func (FinalResponse) streamEvent() {}

// Error reports a failure. No other event follows it.
type Error struct {
	Err error
}

func (Error) streamEvent() {}

func (e Error) Error() string {
	return fmt.Sprintf("provider stream: %v", e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e TurnStarted) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(turnStartedJSON, "provider", string(e.Provider))
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "model", e.Model); err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "id", e.ID)
}

func (e TextFragment) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textFragmentJSON, "text", e.Text)
}

func (e ToolOpened) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolOpenedJSON, "id", e.ID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "name", e.Name)
}

func (e ToolInputFragment) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolInputFragmentJSON, "id", e.ID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "fragment", e.Fragment)
}

func (e ToolClosed) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(toolClosedJSON, "id", e.ID)
}

func (e TurnFinished) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(turnFinishedJSON, "stop_reason", string(e.StopReason))
	if err != nil {
		return nil, err
	}
	usage, err := json.Marshal(e.Usage)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage: %w", err)
	}
	return sjson.SetRawBytes(result, "usage", usage)
}

func (e FinalResponse) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(finalResponseJSON, "provider", string(e.Raw.Provider))
	if err != nil {
		return nil, err
	}
	var raw any
	switch {
	case e.Raw.Blocks != nil:
		raw = e.Raw.Blocks
	case e.Raw.Choices != nil:
		raw = e.Raw.Choices
	}
	if raw != nil {
		body, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal raw response: %w", err)
		}
		if result, err = sjson.SetRawBytes(result, "raw", body); err != nil {
			return nil, err
		}
	}
	if result, err = sjson.SetBytes(result, "text", e.Response.Text()); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "stop_reason", string(e.Response.StopReason)); err != nil {
		return nil, err
	}
	routing, err := json.Marshal(e.Response.Routing)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal routing: %w", err)
	}
	return sjson.SetRawBytes(result, "routing", routing)
}

func (e Error) MarshalJSON() ([]byte, error) {
	if e.Err == nil {
		return errorJSON, nil
	}
	return sjson.SetBytes(errorJSON, "error", e.Err.Error())
}
