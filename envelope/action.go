package envelope

// Action is the instruction an agent embeds in its answer.
// The set is open: unknown values are carried verbatim.
type Action string

const (
	ActionRouteDomain        Action = "ROUTE_DOMAIN"
	ActionDelegateAgent      Action = "DELEGATE_AGENT"
	ActionAskClarification   Action = "ASK_CLARIFICATION"
	ActionShowClassification Action = "SHOW_CLASSIFICATION"
	ActionShowRisk           Action = "SHOW_RISK"
	ActionShowPrediction     Action = "SHOW_PREDICTION"
	ActionShowAutofill       Action = "SHOW_AUTOFILL"
	ActionShowGovernance     Action = "SHOW_GOVERNANCE"
	ActionShowDocStatus      Action = "SHOW_DOC_STATUS"
	ActionShowMonitoring     Action = "SHOW_MONITORING"
	ActionShowKBResults      Action = "SHOW_KB_RESULTS"
	ActionHardStop           Action = "HARD_STOP"
	ActionStopProcess        Action = "STOP_PROCESS"
	ActionFinalizeDraft      Action = "FINALIZE_DRAFT"
	ActionRouteWorkItem      Action = "ROUTE_WORK_ITEM"
	ActionShowRawResponse    Action = "SHOW_RAW_RESPONSE"
	ActionShowError          Action = "SHOW_ERROR"
)

var knownActions = []Action{
	ActionRouteDomain,
	ActionDelegateAgent,
	ActionAskClarification,
	ActionShowClassification,
	ActionShowRisk,
	ActionShowPrediction,
	ActionShowAutofill,
	ActionShowGovernance,
	ActionShowDocStatus,
	ActionShowMonitoring,
	ActionShowKBResults,
	ActionHardStop,
	ActionStopProcess,
	ActionFinalizeDraft,
	ActionRouteWorkItem,
	ActionShowRawResponse,
	ActionShowError,
}

var knownSet = func() map[Action]struct{} {
	m := make(map[Action]struct{}, len(knownActions))
	for _, a := range knownActions {
		m[a] = struct{}{}
	}
	return m
}()

// IsKnown reports whether a belongs to the fixed enumeration.
func (a Action) IsKnown() bool {
	_, ok := knownSet[a]
	return ok
}

// KnownActions returns the enumeration in declaration order.
func KnownActions() []Action {
	out := make([]Action, len(knownActions))
	copy(out, knownActions)
	return out
}
