package envelope

// FromWorkflow builds an envelope from the declared outputs of a workflow run.
// Workflows may set agent_action/agent_id/payload/trace directly as output
// variables; otherwise a textual envelope inside the result field is parsed,
// and failing that the outputs are wrapped as a raw response.
func FromWorkflow(outputs map[string]any, agentID, resultField string) Parsed {
	if outputs == nil {
		return Parsed{
			Envelope:   Error(agentID, WorkflowFailure, "Workflow returned no outputs", ""),
			Convention: ConventionError,
		}
	}
	if resultField == "" {
		resultField = "result"
	}
	answer, _ := outputs[resultField].(string)

	if action, ok := outputs["agent_action"].(string); ok && action != "" {
		id, _ := outputs["agent_id"].(string)
		if id == "" {
			id = agentID
		}
		payload, ok := outputs["payload"].(map[string]any)
		if !ok {
			payload = cloneMap(outputs)
		}
		return normalize(Parsed{
			Answer: answer,
			Envelope: Envelope{
				Action:  Action(action),
				AgentID: id,
				Payload: payload,
				Trace:   asObject(outputs["trace"]),
			},
			Convention: ConventionOutputs,
		})
	}

	if answer != "" {
		if p := Parse(answer); p.Convention != ConventionFallback {
			if p.Envelope.AgentID == UnknownAgent && agentID != "" {
				p.Envelope.AgentID = agentID
			}
			return p
		}
	}

	if agentID == "" {
		agentID = UnknownAgent
	}
	return Parsed{
		Answer: answer,
		Envelope: Envelope{
			Action:  ActionShowRawResponse,
			AgentID: agentID,
			Payload: cloneMap(outputs),
			Trace:   map[string]any{},
		},
		Convention:  ConventionOutputs,
		KnownAction: true,
	}
}
