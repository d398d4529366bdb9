// Package upstream provides the chat-completion collaborators the
// admission handler calls once a request has been admitted.
package upstream

import (
	"context"

	"github.com/quotaforge/gateway/chatapi"
)

// Provider answers an admitted chat-completions request.
type Provider interface {
	ChatCompletion(ctx context.Context, req *chatapi.Request) (*chatapi.Response, error)
	Name() string
}
