package agent

import "github.com/gosuda/custos/internal/domain"

const AnonymousKind = "anonymous"

type anonymous struct{}

func (anonymous) AgentRef() domain.AgentRef { return domain.SingletonAgent(AnonymousKind) }

// Anonymous is the agent in charge when no one else is.
var Anonymous domain.Agent = anonymous{} //nolint:gochecknoglobals // process-wide singleton
