package relay

import (
	"context"

	"github.com/guillefidelio/reviewpilot/pkg/generate"
)

// Generator adapts a relay client to the generation interface, so contained
// surfaces generate through the host instead of calling the privileged
// channel themselves.
//
// Relay-level failures (dial, timeout, frame removed mid-request) surface
// as network-class generation failures; from the originating surface's
// perspective an unreachable relay and an unreachable backend look the same.
type Generator struct {
	client *Client
}

// NewGenerator wraps a connected relay client.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, req *generate.Request) (*generate.Result, error) {
	// The source tag is what lets the host tell a relayed request from a
	// doubled observation of the same click.
	relayed := *req
	relayed.Source = generate.SourceRelayed

	env, err := NewEnvelope(TypeGenerate, generate.SourceRelayed, &relayed)
	if err != nil {
		return networkFailure(err.Error()), nil
	}

	resp, err := g.client.Request(ctx, env)
	if err != nil {
		return networkFailure("relay request failed: " + err.Error()), nil
	}

	switch resp.Type {
	case TypeResult:
		var result generate.Result
		if err := resp.DecodeData(&result); err != nil {
			return networkFailure("malformed relay result: " + err.Error()), nil
		}
		return &result, nil

	case TypeError:
		var payload ErrorPayload
		if err := resp.DecodeData(&payload); err != nil {
			return networkFailure("relay refused request"), nil
		}
		return networkFailure(payload.Message), nil

	default:
		return networkFailure("unexpected relay response type " + resp.Type), nil
	}
}

func networkFailure(message string) *generate.Result {
	return &generate.Result{
		Success:    false,
		Error:      message,
		ErrorClass: generate.ClassNetwork,
	}
}
