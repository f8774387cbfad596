package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for relay observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrToolPath     = attribute.Key("tool.path")
	AttrToolStatus   = attribute.Key("tool.status")
	AttrToolDecision = attribute.Key("tool.decision")

	AttrRunOK       = attribute.Key("sandbox.ok")
	AttrRunReceipts = attribute.Key("sandbox.receipts")

	AttrTaskID = attribute.Key("task.id")
)
