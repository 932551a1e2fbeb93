package ports

import "github.com/IsSlashy/Protocol-01-sub006/core"

// Tokenizer converts between completed sessions and access tokens
type Tokenizer interface {
	IssueAccessToken(session core.AuthSession) (string, error)
	ParseAccessToken(token string) (core.Identity, error)
}
