package server

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/user/llmgate/pkg/llm"
)

// WriteEvent writes one canonical stream event in the wire framing the
// deployed clients expect: deltas as `data: {"content": ...}`, a
// terminator as `data: [DONE]`, and errors as
// `data: {"error": ..., "type": ...}` (the caller still emits Done
// after an error).
func WriteEvent(w io.Writer, ev llm.StreamEvent) error {
	switch {
	case ev.Err != nil:
		payload, err := json.Marshal(map[string]string{
			"error": ev.Err.Error(),
			"type":  string(ev.Err.Kind),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	case ev.Done:
		_, err := io.WriteString(w, "data: [DONE]\n\n")
		return err
	default:
		payload, err := json.Marshal(map[string]string{"content": ev.Delta})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	}
}
