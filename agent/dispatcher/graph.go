package dispatcher

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
)

func (d *Dispatcher) compileAttemptGraph(ctx context.Context) (compose.Runnable[*attempt, *attempt], error) {
	graph := compose.NewGraph[*attempt, *attempt]()

	nodes := []struct {
		name string
		fn   func(context.Context, *attempt) (*attempt, error)
	}{
		{"resolve_scene", d.resolveScene},
		{"assemble_prompt", d.assemblePrompt},
		{"invoke_backend", d.invokeBackend},
		{"finalize_reply", finalizeReply},
	}

	prev := compose.START
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
		if err := graph.AddEdge(prev, n.name); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", prev, n.name, err)
		}
		prev = n.name
	}
	if err := graph.AddEdge(prev, compose.END); err != nil {
		return nil, fmt.Errorf("add edge %s->%s: %w", prev, compose.END, err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("dispatcher.attempt"))
	if err != nil {
		return nil, fmt.Errorf("compile attempt graph: %w", err)
	}
	return runner, nil
}
